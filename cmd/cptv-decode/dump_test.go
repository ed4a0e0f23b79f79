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
	"context"
	"image/color"
	"image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
)

const testCols, testRows = 8, 6

func testFrames(n int) []*cptv.Frame {
	frames := make([]*cptv.Frame, n)
	for i := range frames {
		f := cptv.NewFrame(testCols, testRows)
		f.TimeOn = time.Duration(i) * 111 * time.Millisecond
		for y, row := range f.Pix {
			for x := range row {
				row[x] = uint16(1000 + 10*i + x + y)
			}
		}
		frames[i] = f
	}
	return frames
}

func writeTestRecording(t *testing.T, filename string, h cptv.Header, frames []*cptv.Frame) {
	w, err := cptv.NewFileWriter(filename)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(h))
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}
	require.NoError(t, w.Close())
}

func tempDir(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "cptv-decode")
	require.NoError(t, err)
	return dir, func() { os.RemoveAll(dir) }
}

func testConfig() *Config {
	conf := defaultConfig
	conf.ChunkSize = 100
	return &conf
}

func listPNGs(t *testing.T, dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	require.NoError(t, err)
	var names []string
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names
}

func TestDumpAllFrames(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	writeTestRecording(t, input, cptv.Header{Width: testCols, Height: testRows}, testFrames(4))

	out := filepath.Join(dir, "frames")
	err := dumpFile(context.Background(), input, testConfig(), dumpOptions{outputDir: out, start: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"frame-1.png", "frame-2.png", "frame-3.png", "frame-4.png"}, listPNGs(t, out))

	f, err := os.Open(filepath.Join(out, "frame-2.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, testCols, img.Bounds().Dx())
	assert.Equal(t, testRows, img.Bounds().Dy())

	// Normalised per frame so the corners span the full range.
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	r, _, _, _ = img.At(testCols-1, testRows-1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestDumpFrameRange(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	writeTestRecording(t, input, cptv.Header{Width: testCols, Height: testRows}, testFrames(6))

	err := dumpFile(context.Background(), input, testConfig(), dumpOptions{outputDir: dir, start: 2, end: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"frame-2.png", "frame-3.png", "frame-4.png"}, listPNGs(t, dir))
}

func TestDumpNormalizeOverClip(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	frames := testFrames(3)
	writeTestRecording(t, input, cptv.Header{Width: testCols, Height: testRows}, frames)

	conf := testConfig()
	opts := dumpOptions{outputDir: dir, start: 1, normalizeOverClip: true}
	r, err := clipRange(context.Background(), input, conf, opts)
	require.NoError(t, err)
	assert.Equal(t, valueRange{min: 1000, max: 1000 + 20 + testCols - 1 + testRows - 1}, *r)

	require.NoError(t, dumpFile(context.Background(), input, conf, opts))
	f, err := os.Open(filepath.Join(dir, "frame-3.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	// The last frame is the warmest so only its first pixel isn't black.
	v, _, _, _ := img.At(0, 0).RGBA()
	assert.True(t, v > 0)
	v, _, _, _ = img.At(testCols-1, testRows-1).RGBA()
	assert.Equal(t, uint32(0xffff), v)
}

func TestClipRangeFromHeader(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	h := cptv.Header{Width: testCols, Height: testRows, HasMinMax: true, MinValue: 500, MaxValue: 5000}
	writeTestRecording(t, input, h, testFrames(2))

	r, err := clipRange(context.Background(), input, testConfig(), dumpOptions{start: 1})
	require.NoError(t, err)
	assert.Equal(t, valueRange{min: 500, max: 5000}, *r)
}

func TestDumpCPTVOutput(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	frames := testFrames(5)
	writeTestRecording(t, input, cptv.Header{Width: testCols, Height: testRows, DeviceName: "cam1"}, frames)

	output := filepath.Join(dir, "trimmed.cptv")
	err := dumpFile(context.Background(), input, testConfig(), dumpOptions{start: 2, end: 3, cptvOutput: output})
	require.NoError(t, err)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	session := newSession(f, testConfig())
	header, err := session.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cam1", header.DeviceName)

	for _, expected := range frames[1:3] {
		frame, err := session.NextFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected.Pix, frame.Pix)
	}
	_, err = session.NextFrame(context.Background())
	assert.Error(t, err)
}

func TestDumpMissingFile(t *testing.T) {
	err := dumpFile(context.Background(), "/no/such/clip.cptv", testConfig(), dumpOptions{start: 1})
	assert.True(t, os.IsNotExist(err))
}

func TestDumpNotCPTV(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	require.NoError(t, ioutil.WriteFile(input, []byte("this is not a recording"), 0644))

	assert.Error(t, dumpFile(context.Background(), input, testConfig(), dumpOptions{start: 1}))
}

func TestWritePNGFlatFrame(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	frame := cptv.NewFrame(3, 2)
	name := filepath.Join(dir, "flat.png")
	require.NoError(t, writePNG(name, frame, frameRange(frame), false))

	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	v, _, _, _ := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0), v)
}

func TestDumpColorize(t *testing.T) {
	dir, cleanup := tempDir(t)
	defer cleanup()
	input := filepath.Join(dir, "clip.cptv")
	writeTestRecording(t, input, cptv.Header{Width: testCols, Height: testRows}, testFrames(2))

	err := dumpFile(context.Background(), input, testConfig(), dumpOptions{outputDir: dir, start: 1, colorize: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"frame-1.png", "frame-2.png"}, listPNGs(t, dir))

	f, err := os.Open(filepath.Join(dir, "frame-1.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, testCols, img.Bounds().Dx())

	// Viridis runs from dark purple to yellow.
	lo := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	hi := color.RGBAModel.Convert(img.At(testCols-1, testRows-1)).(color.RGBA)
	assert.Equal(t, uint8(0xff), lo.A)
	assert.True(t, lo.B > lo.G, "%v", lo)
	assert.True(t, lo.R < 0x80 && lo.G < 0x80, "%v", lo)
	assert.True(t, hi.R > hi.B && hi.G > hi.B, "%v", hi)
	assert.True(t, hi.G > 0x80, "%v", hi)
}
