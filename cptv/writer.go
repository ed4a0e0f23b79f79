// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

// NewWriter returns a Writer which emits a gzip compressed (version 2)
// CPTV stream to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: gzip.NewWriter(w),
	}
}

// Writer creates CPTV recordings.
type Writer struct {
	w      *gzip.Writer
	comp   *Compressor
	header *Header
}

// WriteHeader writes the CPTV header. It must be called once, before
// any frames are written. A zero Timestamp is replaced with the current
// time and a zero resolution with that of a Lepton 3.
func (w *Writer) WriteHeader(h Header) error {
	if w.header != nil {
		return errors.New("header already written")
	}
	if h.Width == 0 && h.Height == 0 {
		h.Width, h.Height = defaultCols, defaultRows
	}
	if h.Width <= 0 || h.Height <= 0 || h.Width > maxDimension || h.Height > maxDimension {
		return errInvalidResolution(h.Width, h.Height)
	}
	fields, err := h.fields()
	if err != nil {
		return err
	}

	_, err = w.w.Write(append(
		[]byte(magic),
		version2,
		headerSection,
		fields.fieldCount,
	))
	if err != nil {
		return err
	}
	if _, err := w.w.Write(fields.data); err != nil {
		return err
	}

	w.header = &h
	w.comp = NewCompressor(h.Width, h.Height)
	return nil
}

// WriteFrame compresses and writes a frame. The frame must match the
// resolution given in the header.
func (w *Writer) WriteFrame(frame *Frame) error {
	if w.header == nil {
		return errNoHeader
	}
	if err := frame.checkResolution(w.header.Width, w.header.Height); err != nil {
		return err
	}

	bitWidth, compFrame := w.comp.Next(frame)
	fields := NewFieldWriter()
	fields.Uint32(TimeOn, uint32(frame.TimeOn/time.Millisecond))
	fields.Uint32(LastFFCTime, uint32(frame.LastFFCTime/time.Millisecond))
	fields.Float32(FrameTempC, float32(frame.FrameTempC))
	fields.Float32(LastFFCTempC, float32(frame.LastFFCTempC))
	if frame.IsBackgroundFrame {
		fields.Uint8(BackgroundFrame, 1)
	}
	fields.Uint8(BitWidth, bitWidth)
	fields.Uint32(FrameSize, uint32(len(compFrame)))

	// Frame header
	if _, err := w.w.Write([]byte{frameSection, fields.fieldCount}); err != nil {
		return err
	}
	// Frame fields
	if _, err := w.w.Write(fields.data); err != nil {
		return err
	}
	// Frame thermal data
	_, err := w.w.Write(compFrame)
	return err
}

// Close flushes and terminates the gzip stream. It does not close the
// underlying io.Writer.
func (w *Writer) Close() error {
	return w.w.Close()
}

// NewFileWriter creates filename and returns a FileWriter for it.
func NewFileWriter(filename string) (*FileWriter, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return newFileWriter(f), nil
}

// NewExclusiveFileWriter is like NewFileWriter but fails, with an error
// satisfying os.IsExist, when filename already exists.
func NewExclusiveFileWriter(filename string) (*FileWriter, error) {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return newFileWriter(f), nil
}

func newFileWriter(f *os.File) *FileWriter {
	bw := bufio.NewWriter(f)
	return &FileWriter{
		Writer: NewWriter(bw),
		bw:     bw,
		f:      f,
	}
}

// FileWriter wraps a Writer and provides a convenient way of writing
// a CPTV stream to a disk file.
type FileWriter struct {
	*Writer
	bw *bufio.Writer
	f  *os.File
}

// Name returns the name of the file being written.
func (fw *FileWriter) Name() string {
	return fw.f.Name()
}

// Close finishes the CPTV stream and closes the file.
func (fw *FileWriter) Close() error {
	err := fw.Writer.Close()
	if ferr := fw.bw.Flush(); err == nil {
		err = ferr
	}
	if cerr := fw.f.Close(); err == nil {
		err = cerr
	}
	return err
}
