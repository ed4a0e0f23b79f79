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

package decode

import (
	"bytes"
	"context"
	"io/ioutil"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
)

var testTimestamp = time.Date(2024, 9, 17, 19, 21, 33, 0, time.UTC)

func testHeader(width, height int) cptv.Header {
	return cptv.Header{
		Timestamp:  testTimestamp,
		Width:      width,
		Height:     height,
		DeviceName: "nz42",
		DeviceID:   1234,
		FPS:        9,
		Brand:      "flir",
		Model:      "lepton3.5",
	}
}

// makeFrames returns n frames showing a warm blob drifting across a
// noisy background.
func makeFrames(n, width, height int) []*cptv.Frame {
	rng := rand.New(rand.NewSource(42))
	frames := make([]*cptv.Frame, n)
	for i := range frames {
		f := cptv.NewFrame(width, height)
		f.TimeOn = time.Duration(i*111) * time.Millisecond
		f.LastFFCTime = 3 * time.Second
		f.FrameTempC = 21.5
		f.LastFFCTempC = 20.25
		f.IsBackgroundFrame = i == 0
		for y, row := range f.Pix {
			for x := range row {
				v := 3000 + rng.Intn(40)
				if abs(x-i) < 3 && abs(y-height/2) < 3 {
					v += 500
				}
				row[x] = uint16(v)
			}
		}
		frames[i] = f
	}
	return frames
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// writeRecording returns the gzip compressed CPTV recording of frames.
func writeRecording(t *testing.T, header cptv.Header, frames []*cptv.Frame) []byte {
	buf := new(bytes.Buffer)
	w := cptv.NewWriter(buf)
	require.NoError(t, w.WriteHeader(header))
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func inflate(t *testing.T, compressed []byte) []byte {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	raw, err := ioutil.ReadAll(zr)
	require.NoError(t, err)
	return raw
}

// blockingSource hands out chunks as they are sent on its channel. A
// closed channel ends the stream.
type blockingSource struct {
	chunks    chan []byte
	entered   chan struct{}
	honourCtx bool
	cancels   int32
}

func newBlockingSource(honourCtx bool) *blockingSource {
	return &blockingSource{
		chunks:    make(chan []byte),
		entered:   make(chan struct{}, 16),
		honourCtx: honourCtx,
	}
}

func (s *blockingSource) Read(ctx context.Context) ([]byte, bool, error) {
	s.entered <- struct{}{}
	var done <-chan struct{}
	if s.honourCtx {
		done = ctx.Done()
	}
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, true, nil
		}
		return chunk, false, nil
	case <-done:
		return nil, false, ctx.Err()
	}
}

func (s *blockingSource) Cancel() error {
	atomic.AddInt32(&s.cancels, 1)
	return nil
}

func (s *blockingSource) cancelCount() int {
	return int(atomic.LoadInt32(&s.cancels))
}

func waitEntered(t *testing.T, s *blockingSource) {
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("source was never read")
	}
}
