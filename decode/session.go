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

// Package decode turns a chunked CPTV byte stream into a header followed
// by a sequence of frames, however the stream happens to be chunked.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rcrowley/go-metrics"

	"github.com/TheCacophonyProject/cptv-decoder/cptv"
	"github.com/TheCacophonyProject/cptv-decoder/source"
)

var (
	// ErrTruncatedHeader is returned by Header when the stream ends
	// before a complete header was received.
	ErrTruncatedHeader = errors.New("stream ended before a complete header")

	// ErrHeaderAlreadyRead is returned when Header is called more than
	// once on a session.
	ErrHeaderAlreadyRead = errors.New("header already read")

	// ErrHeaderNotRead is returned by NextFrame when called before
	// Header.
	ErrHeaderNotRead = errors.New("header not read")

	// ErrSessionCancelled is returned by all operations once Cancel has
	// been called, including ones blocked waiting on the source.
	ErrSessionCancelled = errors.New("session cancelled")
)

// errSourceDone is returned internally when a record is incomplete and
// no more bytes will arrive.
var errSourceDone = errors.New("source done")

// Engine recognises complete records at the start of a buffer. Both
// methods return cptv.ErrIncomplete when buf doesn't yet hold a whole
// record, and otherwise the record and the number of bytes it
// occupies.
type Engine interface {
	Header(buf []byte) (*cptv.Header, int, error)
	Frame(buf []byte) (*cptv.Frame, int, error)
}

// NewSession returns a Session which reads from src and parses records
// with engine. No bytes are read until Header is called.
func NewSession(src source.ByteSource, engine Engine) *Session {
	ctx, stop := context.WithCancel(context.Background())
	registry := metrics.NewRegistry()
	return &Session{
		src:       src,
		engine:    engine,
		ctx:       ctx,
		stop:      stop,
		registry:  registry,
		chunks:    metrics.GetOrRegisterCounter("chunks", registry),
		bytes:     metrics.GetOrRegisterCounter("bytes", registry),
		frames:    metrics.GetOrRegisterCounter("frames", registry),
		chunkSize: metrics.GetOrRegisterHistogram("chunk-size", registry, metrics.NewUniformSample(1024)),
	}
}

// Session is a pull based CPTV decoder. Call Header once and then
// NextFrame until it returns io.EOF.
//
// Header and NextFrame may block waiting on the source. Cancel may be
// called from another goroutine at any time; a blocked call then
// returns ErrSessionCancelled.
type Session struct {
	src    source.ByteSource
	engine Engine

	// op serialises Header and NextFrame so there is at most one
	// outstanding read on src.
	op sync.Mutex

	// mu guards the fields below against Cancel. It is never held
	// while reading from src.
	mu      sync.Mutex
	state   State
	buf     bytes.Buffer
	srcDone bool

	ctx  context.Context
	stop context.CancelFunc

	registry  metrics.Registry
	chunks    metrics.Counter
	bytes     metrics.Counter
	frames    metrics.Counter
	chunkSize metrics.Histogram
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns the registry holding the session's counters:
// "chunks", "bytes" and "frames", and the "chunk-size" histogram.
func (s *Session) Metrics() metrics.Registry {
	return s.registry
}

// Header reads and returns the CPTV header. It may only be called
// once.
func (s *Session) Header(ctx context.Context) (*cptv.Header, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	switch s.state {
	case Cancelled:
		s.mu.Unlock()
		return nil, ErrSessionCancelled
	case Uninitialized:
		s.state = AwaitingHeader
	default:
		s.mu.Unlock()
		return nil, ErrHeaderAlreadyRead
	}
	s.mu.Unlock()

	var header *cptv.Header
	err := s.next(ctx, func(buf []byte) (n int, err error) {
		header, n, err = s.engine.Header(buf)
		return n, err
	})
	switch {
	case err == nil:
		s.setState(AwaitingHeader, StreamingFrames)
		return header, nil
	case err == errSourceDone:
		s.setState(AwaitingHeader, Exhausted)
		return nil, ErrTruncatedHeader
	case isContextErr(err):
		// Nothing was consumed so the header can be asked for again.
		s.setState(AwaitingHeader, Uninitialized)
		return nil, err
	case err == ErrSessionCancelled:
		return nil, err
	default:
		s.setState(AwaitingHeader, Exhausted)
		return nil, err
	}
}

// NextFrame reads and returns the next frame. At the end of the stream
// io.EOF is returned, as it is for every call after that. A frame cut
// short by the end of the stream is treated as the end of the stream.
func (s *Session) NextFrame(ctx context.Context) (*cptv.Frame, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case Cancelled:
		return nil, ErrSessionCancelled
	case Exhausted:
		return nil, io.EOF
	case Uninitialized, AwaitingHeader:
		return nil, ErrHeaderNotRead
	}

	var frame *cptv.Frame
	err := s.next(ctx, func(buf []byte) (n int, err error) {
		frame, n, err = s.engine.Frame(buf)
		return n, err
	})
	switch {
	case err == nil:
		s.frames.Inc(1)
		return frame, nil
	case err == errSourceDone:
		s.setState(StreamingFrames, Exhausted)
		return nil, io.EOF
	case isContextErr(err), err == ErrSessionCancelled:
		return nil, err
	default:
		s.setState(StreamingFrames, Exhausted)
		return nil, err
	}
}

// Cancel stops the session. A call blocked in Header or NextFrame
// returns ErrSessionCancelled, buffered bytes are discarded and the
// source is cancelled. Calling Cancel again has no effect.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state == Cancelled {
		s.mu.Unlock()
		return nil
	}
	s.state = Cancelled
	s.buf = bytes.Buffer{}
	s.mu.Unlock()

	s.stop()
	return s.src.Cancel()
}

// next runs parse against the buffered bytes, pulling one chunk at a
// time from the source until parse succeeds or fails with something
// other than cptv.ErrIncomplete. Exactly the bytes parse reports as
// consumed are removed from the buffer.
func (s *Session) next(ctx context.Context, parse func([]byte) (int, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(s.ctx, cancel)
	defer stopAfter()

	for {
		s.mu.Lock()
		if s.state == Cancelled {
			s.mu.Unlock()
			return ErrSessionCancelled
		}
		n, err := parse(s.buf.Bytes())
		if err == nil {
			s.buf.Next(n)
			s.mu.Unlock()
			return nil
		}
		if !errors.Is(err, cptv.ErrIncomplete) {
			s.mu.Unlock()
			return fmt.Errorf("decoding: %w", err)
		}
		if s.srcDone {
			s.mu.Unlock()
			return errSourceDone
		}
		s.mu.Unlock()

		chunk, done, err := s.src.Read(ctx)

		s.mu.Lock()
		if s.state == Cancelled {
			// Whatever was read is stale.
			s.mu.Unlock()
			return ErrSessionCancelled
		}
		if err != nil {
			s.mu.Unlock()
			if isContextErr(err) {
				return err
			}
			return fmt.Errorf("reading: %w", err)
		}
		s.buf.Write(chunk)
		s.srcDone = done
		s.chunks.Inc(1)
		s.bytes.Inc(int64(len(chunk)))
		s.chunkSize.Update(int64(len(chunk)))
		s.mu.Unlock()
	}
}

// setState moves the session from one state to another unless it has
// been cancelled in the meantime.
func (s *Session) setState(from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.state = to
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
