// Copyright 2024 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package cptv

import (
	"fmt"
	"time"
)

// NewFrame returns a zeroed Frame with the given resolution. The pixel
// rows share one backing array.
func NewFrame(width, height int) *Frame {
	backing := make([]uint16, width*height)
	pix := make([][]uint16, height)
	for y := range pix {
		pix[y] = backing[y*width : (y+1)*width : (y+1)*width]
	}
	return &Frame{Pix: pix}
}

// Frame is a single decoded thermal image along with the camera status
// recorded with it.
type Frame struct {
	TimeOn            time.Duration
	LastFFCTime       time.Duration
	FrameTempC        float64
	LastFFCTempC      float64
	IsBackgroundFrame bool
	Pix               [][]uint16
}

// Width returns the number of pixel columns.
func (f *Frame) Width() int {
	if len(f.Pix) == 0 {
		return 0
	}
	return len(f.Pix[0])
}

// Height returns the number of pixel rows.
func (f *Frame) Height() int {
	return len(f.Pix)
}

// CopyFrom sets the pixels and status of f to those of src. Both
// frames must have the same resolution.
func (f *Frame) CopyFrom(src *Frame) {
	f.TimeOn = src.TimeOn
	f.LastFFCTime = src.LastFFCTime
	f.FrameTempC = src.FrameTempC
	f.LastFFCTempC = src.LastFFCTempC
	f.IsBackgroundFrame = src.IsBackgroundFrame
	for y, row := range src.Pix {
		copy(f.Pix[y], row)
	}
}

// MinMax returns the smallest and largest pixel values in the frame.
func (f *Frame) MinMax() (uint16, uint16) {
	if f.Width() == 0 {
		return 0, 0
	}
	min, max := f.Pix[0][0], f.Pix[0][0]
	for _, row := range f.Pix {
		for _, v := range row {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}

func (f *Frame) checkResolution(width, height int) error {
	if f.Width() != width || f.Height() != height {
		return fmt.Errorf("frame is %dx%d, expected %dx%d", f.Width(), f.Height(), width, height)
	}
	return nil
}
