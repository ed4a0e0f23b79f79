// cptv-decoder - decode CPTV thermal video streams
//  Copyright (C) 2024, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mazznoer/colorgrad"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
)

type dumpOptions struct {
	outputDir         string
	frameDirPerInput  bool
	start             int
	end               int
	normalizeOverClip bool
	cptvOutput        string
	colorize          bool
}

var viridis = colorgrad.Viridis()

// inRange reports whether frame number n (from 1) was selected.
func (o dumpOptions) inRange(n int) bool {
	return n >= o.start && (o.end == 0 || n <= o.end)
}

// pastRange reports whether frame n and all later frames are unselected.
func (o dumpOptions) pastRange(n int) bool {
	return o.end != 0 && n > o.end
}

// dumpFile decodes the recording at path, writing the selected frames
// as PNG images and/or a new recording.
func dumpFile(ctx context.Context, path string, conf *Config, opts dumpOptions) (err error) {
	frameDir := ""
	if opts.outputDir != "" {
		frameDir = opts.outputDir
		if opts.frameDirPerInput {
			frameDir = filepath.Join(frameDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
		if err := os.MkdirAll(frameDir, 0755); err != nil {
			return err
		}
	}

	var clip *valueRange
	if frameDir != "" && opts.normalizeOverClip {
		if clip, err = clipRange(ctx, path, conf, opts); err != nil {
			return err
		}
		log.Printf("%s: normalising over %d-%d", path, clip.min, clip.max)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	session := newSession(f, conf)
	defer session.Cancel()

	header, err := session.Header(ctx)
	if err != nil {
		return err
	}
	logHeader(path, header)

	var clipOut *cptv.FileWriter
	if opts.cptvOutput != "" {
		clipOut, err = cptv.NewFileWriter(opts.cptvOutput)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := clipOut.Close(); cerr != nil {
				err = multierror.Append(err, cerr)
			}
		}()
		clipHeader := *header
		clipHeader.TotalFrames = 0
		clipHeader.HasMinMax = false
		if err := clipOut.WriteHeader(clipHeader); err != nil {
			return err
		}
	}

	selected := 0
	for n := 1; ; n++ {
		frame, err := session.NextFrame(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if opts.pastRange(n) {
			break
		}
		if !opts.inRange(n) {
			continue
		}
		selected++

		if frameDir != "" {
			r := clip
			if r == nil {
				r = frameRange(frame)
			}
			name := filepath.Join(frameDir, fmt.Sprintf("frame-%d.png", n))
			if err := writePNG(name, frame, r, opts.colorize); err != nil {
				return err
			}
		}
		if clipOut != nil {
			if err := clipOut.WriteFrame(frame); err != nil {
				return err
			}
		}
	}

	log.Printf("%s: %d frames selected", path, selected)
	logMetrics(path, session)
	return nil
}

type valueRange struct {
	min, max uint16
}

func (r *valueRange) add(min, max uint16) {
	if min < r.min {
		r.min = min
	}
	if max > r.max {
		r.max = max
	}
}

// scale maps v onto 0-0xffff, clamping values outside the range.
func (r *valueRange) scale(v uint16) uint16 {
	span := uint32(r.max) - uint32(r.min)
	switch {
	case span == 0 || v <= r.min:
		return 0
	case v >= r.max:
		return 0xffff
	default:
		return uint16((uint32(v) - uint32(r.min)) * 0xffff / span)
	}
}

func frameRange(frame *cptv.Frame) *valueRange {
	min, max := frame.MinMax()
	return &valueRange{min: min, max: max}
}

// clipRange finds the pixel value range of the selected frames. The
// range stored in the header is used when there is one; otherwise the
// recording is decoded an extra time.
func clipRange(ctx context.Context, path string, conf *Config, opts dumpOptions) (*valueRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	session := newSession(f, conf)
	defer session.Cancel()

	header, err := session.Header(ctx)
	if err != nil {
		return nil, err
	}
	if header.HasMinMax {
		return &valueRange{min: header.MinValue, max: header.MaxValue}, nil
	}

	var r *valueRange
	for n := 1; !opts.pastRange(n); n++ {
		frame, err := session.NextFrame(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !opts.inRange(n) {
			continue
		}
		if r == nil {
			r = frameRange(frame)
		} else {
			r.add(frame.MinMax())
		}
	}
	if r == nil {
		return &valueRange{}, nil
	}
	return r, nil
}

// writePNG writes frame as a 16 bit greyscale image, stretching r over
// the full range of the image. With colorize the stretched values are
// mapped through the Viridis palette instead.
func writePNG(filename string, frame *cptv.Frame, r *valueRange, colorize bool) error {
	var img image.Image
	bounds := image.Rect(0, 0, frame.Width(), frame.Height())
	if colorize {
		rgba := image.NewRGBA(bounds)
		for y, row := range frame.Pix {
			for x, v := range row {
				c := viridis.At(float64(r.scale(v)) / 0xffff)
				red, green, blue := c.RGB255()
				rgba.SetRGBA(x, y, color.RGBA{R: red, G: green, B: blue, A: 0xff})
			}
		}
		img = rgba
	} else {
		grey := image.NewGray16(bounds)
		for y, row := range frame.Pix {
			for x, v := range row {
				grey.SetGray16(x, y, color.Gray16{Y: r.scale(v)})
			}
		}
		img = grey
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := png.Encode(w, img); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
