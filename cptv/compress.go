// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// The widest bit packing a CPTV frame may use.
const maxBitWidth = 25

// NewCompressor creates a new Compressor for frames of the given
// resolution.
func NewCompressor(cols, rows int) *Compressor {
	elems := rows * cols
	outBuf := new(bytes.Buffer)
	outBuf.Grow(2 * elems) // 16 bits per element; worst case
	return &Compressor{
		rows:       rows,
		cols:       cols,
		frameDelta: make([]int32, elems),
		adjDeltas:  make([]int32, elems-1),
		outBuf:     outBuf,
		prevFrame:  NewFrame(cols, rows),
	}
}

// Compressor generates a compressed representation of successive
// Frames.
type Compressor struct {
	cols, rows int
	frameDelta []int32
	adjDeltas  []int32
	outBuf     *bytes.Buffer
	prevFrame  *Frame
}

// Next takes the next Frame in a recording and converts it to a
// compressed stream of bytes. The bit width used for packing is also
// returned (this is required for unpacking).
//
// IMPORTANT: The returned byte slice is reused and therefore is only
// valid until the next call to Next.
func (c *Compressor) Next(curr *Frame) (uint8, []byte) {
	// Generate the interframe delta.
	// The output is written in a "snaked" fashion to avoid
	// potentially greater deltas at the edges in the next stage.
	var i int
	for y := 0; y < c.rows; y++ {
		i = y * c.cols
		if y&1 == 1 {
			i += c.cols - 1
		}
		for x := 0; x < c.cols; x++ {
			c.frameDelta[i] = int32(curr.Pix[y][x]) - int32(c.prevFrame.Pix[y][x])
			c.prevFrame.Pix[y][x] = curr.Pix[y][x]
			if y&1 == 0 {
				i++
			} else {
				i--
			}
		}
	}

	// Now generate the adjacent "delta of deltas".
	var maxD uint32
	for i := 0; i < len(c.frameDelta)-1; i++ {
		d := c.frameDelta[i+1] - c.frameDelta[i]
		c.adjDeltas[i] = d
		if absD := abs(d); absD > maxD {
			maxD = absD
		}
	}

	// How many bits required to store the largest delta?
	width := numBits(maxD) + 1 // add 1 to allow for sign bit

	// Write out the starting frame delta value (required for reconstruction)
	c.outBuf.Reset()
	binary.Write(c.outBuf, binary.LittleEndian, c.frameDelta[0])

	// Pack the deltas according to the bit width determined
	PackBits(width, c.adjDeltas, c.outBuf)
	return width, c.outBuf.Bytes()
}

// NewDecompressor creates a new Decompressor for frames of the given
// resolution.
func NewDecompressor(cols, rows int) *Decompressor {
	return &Decompressor{
		rows:      rows,
		cols:      cols,
		deltas:    make([]int32, rows*cols),
		prevFrame: NewFrame(cols, rows),
	}
}

// Decompressor is used to decompress successive CPTV frames. See the
// Next() method.
type Decompressor struct {
	cols, rows int
	deltas     []int32
	prevFrame  *Frame
}

// Next decompresses one frame's worth of data, packed at bitWidth,
// into out. The decompressor's previous frame is only updated when the
// whole frame decodes successfully.
func (d *Decompressor) Next(bitWidth uint8, compressed []byte, out *Frame) error {
	if bitWidth == 0 || bitWidth > maxBitWidth {
		return fmt.Errorf("invalid bit width: %d", bitWidth)
	}
	if err := out.checkResolution(d.cols, d.rows); err != nil {
		return err
	}
	if len(compressed) < 4 {
		return fmt.Errorf("frame data too short: %d bytes", len(compressed))
	}

	v := int32(binary.LittleEndian.Uint32(compressed))
	unpacker := NewBitUnpacker(bitWidth, bytes.NewReader(compressed[4:]))
	d.deltas[0] = v
	for i := 1; i < len(d.deltas); i++ {
		y := i / d.cols
		x := i % d.cols
		// Deltas are "snaked" so work backwards through every second row.
		if y&1 == 1 {
			x = d.cols - x - 1
		}

		dv, err := unpacker.Next()
		if err != nil {
			return fmt.Errorf("frame data too short: %w", err)
		}
		v += dv
		d.deltas[y*d.cols+x] = v
	}

	// Add to delta frame to previous frame.
	for y := 0; y < d.rows; y++ {
		for x := 0; x < d.cols; x++ {
			out.Pix[y][x] = uint16(int32(d.prevFrame.Pix[y][x]) + d.deltas[y*d.cols+x])
			d.prevFrame.Pix[y][x] = out.Pix[y][x]
		}
	}
	return nil
}

// PackBits takes a slice of signed integers and packs them into an
// abitrary (smaller) bit width. The most significant bit is written
// out first.
func PackBits(width uint8, input []int32, w io.ByteWriter) {
	var bits uint32 // scratch buffer
	var nBits uint8 // number of bits in use in scratch
	for _, d := range input {
		bits |= twosComp(d, width) << (32 - width - nBits)
		nBits += width
		for nBits >= 8 {
			w.WriteByte(uint8(bits >> 24))
			bits <<= 8
			nBits -= 8
		}
	}
	if nBits > 0 {
		w.WriteByte(uint8(bits >> 24))
	}
}

// NewBitUnpacker creates a new BitUnpacker. Integers will be
// extracted from the ByteReader and are expected to be packed at the
// bit width specified.
func NewBitUnpacker(width uint8, r io.ByteReader) *BitUnpacker {
	return &BitUnpacker{
		bitw: width,
		r:    r,
	}
}

// BitUnpacker extracts signed integers, packed at some bit width,
// from a bitstream.
type BitUnpacker struct {
	r     io.ByteReader
	bitw  uint8
	bits  uint32
	nbits uint8
}

// Next returns the next signed integer from the bitstream.
func (u *BitUnpacker) Next() (int32, error) {
	for u.nbits < u.bitw {
		b, err := u.r.ReadByte()
		if err != nil {
			return 0, err
		}
		u.bits |= uint32(b) << (24 - u.nbits)
		u.nbits += 8
	}

	out := twosUncomp(u.bits>>(32-u.bitw), u.bitw)
	u.bits = u.bits << u.bitw
	u.nbits -= u.bitw
	return out, nil
}

func abs(x int32) uint32 {
	if x < 0 {
		return uint32(-x)
	}
	return uint32(x)
}

func twosComp(v int32, width uint8) uint32 {
	if v >= 0 {
		return uint32(v)
	}
	return (^uint32(-v) + 1) & uint32((1<<width)-1)
}

func twosUncomp(v uint32, width uint8) int32 {
	if v&(1<<(width-1)) == 0 {
		return int32(v) // positive
	}
	return -int32((^v + 1) & uint32((1<<width)-1))
}

func numBits(x uint32) uint8 {
	return uint8(bits.Len32(x))
}
