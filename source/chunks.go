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

package source

import (
	"context"
	"math"
	"sync"
)

// DefaultParts is the number of chunks SplitOffsets produces when no
// maximum chunk size is given.
const DefaultParts = 5

// SplitOffsets returns the chunk boundaries for splitting length bytes
// into near-equal chunks of at most maxChunkSize bytes. A maxChunkSize
// of zero (or less) splits into DefaultParts chunks instead.
//
// The returned offsets start at 0 and end at length; chunk i covers
// [offsets[i], offsets[i+1]). Boundaries are ceil(length/parts*i)
// computed in floating point, so adjacent chunks may differ by a byte.
func SplitOffsets(length, maxChunkSize int) []int {
	numParts := DefaultParts
	if maxChunkSize > 0 {
		numParts = int(math.Ceil(float64(length) / float64(maxChunkSize)))
	}
	if numParts < 1 {
		// Empty input still yields one (empty) chunk so that the
		// source reports done.
		numParts = 1
	}

	step := float64(length) / float64(numParts)
	offsets := make([]int, 0, numParts+1)
	for i := 0; i < numParts; i++ {
		offsets = append(offsets, int(math.Ceil(step*float64(i))))
	}
	return append(offsets, length)
}

// NewChunkSource returns a ByteSource which delivers data in the
// chunks computed by SplitOffsets. It stands in for a real network or
// file stream.
func NewChunkSource(data []byte, maxChunkSize int) *ChunkSource {
	return &ChunkSource{
		data:    data,
		offsets: SplitOffsets(len(data), maxChunkSize),
	}
}

// ChunkSource is an in-memory ByteSource with pre-computed chunk
// boundaries.
type ChunkSource struct {
	mu        sync.Mutex
	data      []byte
	offsets   []int
	cursor    int
	done      bool
	cancelled bool
}

// NumChunks returns the number of chunks the source delivers in total.
func (s *ChunkSource) NumChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offsets) == 0 {
		return 0
	}
	return len(s.offsets) - 1
}

// Read implements ByteSource.
func (s *ChunkSource) Read(ctx context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return nil, false, ErrSourceCancelled
	}
	if s.done {
		return nil, false, ErrSourceExhausted
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.cursor++
	start, end := s.offsets[s.cursor-1], s.offsets[s.cursor]
	s.done = s.cursor == len(s.offsets)-1
	return s.data[start:end:end], s.done, nil
}

// Cancel implements ByteSource. The retained buffer is dropped and the
// cursor reset.
func (s *ChunkSource) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.data = nil
	s.offsets = nil
	s.cursor = 0
	return nil
}
