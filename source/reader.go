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
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the chunk size used by ReaderSource when none is
// given.
const DefaultChunkSize = 32 * 1024

// Number of consecutive empty reads tolerated before giving up.
const maxEmptyReads = 100

// NewReaderSource returns a ByteSource which reads from r in chunks of
// up to chunkSize bytes. If r is also an io.Closer it is closed by
// Cancel, which unblocks a pending Read on files and network
// connections.
//
// The source reads one chunk ahead so that the final chunk can be
// reported with done=true. On a live connection this means a chunk is
// only delivered once the following one has arrived, or the peer has
// closed its end.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderSource{
		r:         r,
		chunkSize: chunkSize,
	}
}

// ReaderSource adapts an io.Reader to ByteSource.
//
// Read errors are sticky, apart from context errors from a reader
// which is itself backed by a ByteSource. Those are passed on and the
// read is retried by the next Read.
type ReaderSource struct {
	readMu    sync.Mutex
	r         io.Reader
	chunkSize int
	next      []byte
	eof       bool
	done      bool
	err       error

	cancelled int32
}

// Read implements ByteSource. The context is only checked between
// reads; use Cancel to interrupt a read blocked on the underlying
// reader.
func (s *ReaderSource) Read(ctx context.Context) ([]byte, bool, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.isCancelled() {
		s.next = nil
		return nil, false, ErrSourceCancelled
	}
	if s.done {
		return nil, false, ErrSourceExhausted
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if s.next == nil && !s.eof && s.err == nil {
		if err := s.fill(); err != nil {
			if s.isCancelled() {
				return nil, false, ErrSourceCancelled
			}
			return nil, false, err
		}
	}
	if s.isCancelled() {
		// Closing the reader interrupts it with its own error.
		s.next = nil
		return nil, false, ErrSourceCancelled
	}
	if s.next == nil && s.err != nil {
		return nil, false, s.err
	}

	chunk := s.next
	s.next = nil
	if !s.eof && s.err == nil {
		if err := s.fill(); err != nil {
			// The look ahead was interrupted. It is retried by the
			// next Read, which may then find nothing left.
			if s.isCancelled() {
				return nil, false, ErrSourceCancelled
			}
			return chunk, false, nil
		}
	}
	if s.isCancelled() {
		s.next = nil
		return nil, false, ErrSourceCancelled
	}

	s.done = s.eof && s.next == nil
	return chunk, s.done, nil
}

// fill reads the next chunk into s.next, recording EOF or an error. A
// context error is returned instead of being recorded.
func (s *ReaderSource) fill() error {
	buf := make([]byte, s.chunkSize)
	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.r.Read(buf)
		if n > 0 {
			s.next = buf[:n:n]
		}
		if err == io.EOF {
			s.eof = true
			return nil
		}
		if isContextErr(err) {
			if n > 0 {
				return nil
			}
			return err
		}
		if err != nil {
			s.err = err
			return nil
		}
		if n > 0 {
			return nil
		}
	}
	s.err = io.ErrNoProgress
	return nil
}

// Cancel implements ByteSource.
func (s *ReaderSource) Cancel() error {
	if !atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		return nil
	}
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *ReaderSource) isCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
