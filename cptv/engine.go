// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/lepton3"
)

// Recordings which don't state their resolution (version 1) were all
// made with a Lepton 3.
const (
	defaultCols = lepton3.FrameCols
	defaultRows = lepton3.FrameRows

	maxDimension = 4096
)

var errNoHeader = errors.New("frame requested before header")

func errInvalidResolution(width, height int) error {
	return fmt.Errorf("invalid resolution: %dx%d", width, height)
}

// NewEngine returns an Engine ready to parse a CPTV stream from its
// first byte.
func NewEngine() *Engine {
	return new(Engine)
}

// Engine parses CPTV sections out of a buffer of (uncompressed) CPTV
// bytes. It never blocks: when the buffer ends part way through a
// section ErrIncomplete is returned and the Engine's state is
// untouched, so the same call can be retried once more bytes have been
// appended.
//
// Frames are delta encoded against their predecessor, so an Engine
// keeps the previous frame's pixels between calls.
type Engine struct {
	header *Header
	decomp *Decompressor
}

// Header parses the CPTV header at the start of buf, returning it with
// the number of bytes it occupies.
func (e *Engine) Header(buf []byte) (*Header, int, error) {
	if e.header != nil {
		return nil, 0, errors.New("header already parsed")
	}

	r := &sectionReader{buf: buf}
	magicRead, err := r.ReadN(len(magic))
	if err != nil {
		if !isMagicPrefix(buf) {
			return nil, 0, errors.New("magic not found")
		}
		return nil, 0, err
	}
	if string(magicRead) != magic {
		return nil, 0, errors.New("magic not found")
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	if version != version1 && version != version2 {
		return nil, 0, fmt.Errorf("unsupported version: %d", version)
	}
	if err := r.checkByte("section", headerSection); err != nil {
		return nil, 0, err
	}
	fields, err := r.readFields()
	if err != nil {
		return nil, 0, err
	}

	h, err := headerFromFields(version, fields)
	if err != nil {
		return nil, 0, err
	}
	if h.Width > maxDimension || h.Height > maxDimension {
		return nil, 0, errInvalidResolution(h.Width, h.Height)
	}
	if h.Compression != CompressionNone && h.Compression != CompressionDelta {
		return nil, 0, fmt.Errorf("unsupported compression: %d", h.Compression)
	}

	e.header = h
	e.decomp = NewDecompressor(h.Width, h.Height)
	return h, r.consumed(), nil
}

// Frame parses and decodes the frame section at the start of buf,
// returning it with the number of bytes it occupies. Header must have
// succeeded first.
func (e *Engine) Frame(buf []byte) (*Frame, int, error) {
	if e.header == nil {
		return nil, 0, errNoHeader
	}

	r := &sectionReader{buf: buf}
	if err := r.checkByte("section", frameSection); err != nil {
		return nil, 0, err
	}
	fields, err := r.readFields()
	if err != nil {
		return nil, 0, err
	}
	frameSize, err := fields.Uint32(FrameSize)
	if err != nil {
		return nil, 0, fmt.Errorf("frame size: %w", err)
	}
	if max := e.maxFrameSize(); int64(frameSize) > max {
		return nil, 0, fmt.Errorf("frame size %d exceeds %d bytes", frameSize, max)
	}
	data, err := r.ReadN(int(frameSize))
	if err != nil {
		return nil, 0, err
	}

	out := NewFrame(e.header.Width, e.header.Height)
	if err := e.decodePixels(fields, data, out); err != nil {
		return nil, 0, err
	}
	if e.header.Version >= int(version2) {
		readFrameStatus(fields, out)
	}
	return out, r.consumed(), nil
}

// maxFrameSize is the largest pixel data a frame can carry at the
// header's resolution and compression.
func (e *Engine) maxFrameSize() int64 {
	pixels := int64(e.header.Width) * int64(e.header.Height)
	if e.header.Compression == CompressionNone {
		return 2 * pixels
	}
	return 4 + (maxBitWidth*pixels+7)/8
}

func (e *Engine) decodePixels(fields Fields, data []byte, out *Frame) error {
	switch e.header.Compression {
	case CompressionNone:
		if len(data) != 2*e.header.Width*e.header.Height {
			return fmt.Errorf("raw frame has %d bytes, expected %d", len(data), 2*e.header.Width*e.header.Height)
		}
		i := 0
		for _, row := range out.Pix {
			for x := range row {
				row[x] = binary.LittleEndian.Uint16(data[i:])
				i += 2
			}
		}
		return nil
	default:
		bitWidth, err := fields.Uint8(BitWidth)
		if err != nil {
			return fmt.Errorf("bit width: %w", err)
		}
		return e.decomp.Next(bitWidth, data, out)
	}
}

// readFrameStatus fills in the camera status fields. These are
// unsupported in version 1 recordings, where the 't' field holds an
// offset in microseconds rather than the camera's time on.
func readFrameStatus(fields Fields, out *Frame) {
	if v, err := fields.Uint32(TimeOn); err == nil {
		out.TimeOn = time.Duration(v) * time.Millisecond
	}
	if v, err := fields.Uint32(LastFFCTime); err == nil {
		out.LastFFCTime = time.Duration(v) * time.Millisecond
	}
	if v, err := fields.Float32(FrameTempC); err == nil {
		out.FrameTempC = float64(v)
	}
	if v, err := fields.Float32(LastFFCTempC); err == nil {
		out.LastFFCTempC = float64(v)
	}
	if v, err := fields.Uint8(BackgroundFrame); err == nil {
		out.IsBackgroundFrame = v != 0
	}
}

// isMagicPrefix reports whether a buffer shorter than the magic could
// still be the start of it.
func isMagicPrefix(buf []byte) bool {
	if len(buf) > len(magic) {
		return false
	}
	return string(buf) == magic[:len(buf)]
}
