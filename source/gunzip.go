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
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
)

// NewGunzipSource returns a ByteSource delivering the inflated
// contents of the gzip stream read from src, in chunks of up to
// chunkSize bytes. CPTV recordings are gzip streams so this sits
// between the transport and a decode session.
//
// Inflating happens on a separate goroutine, one chunk per Read, so
// that a caller whose context ends never leaves the inflater holding a
// context error. That goroutine exits once the stream has been read to
// the end or Cancel is called.
func NewGunzipSource(src ByteSource, chunkSize int) *GunzipSource {
	ctx, stop := context.WithCancel(context.Background())
	in := &chunkReader{src: src, ctx: ctx}
	return &GunzipSource{
		inflated: NewReaderSource(&lazyGzipReader{r: in}, chunkSize),
		src:      src,
		ctx:      ctx,
		stop:     stop,
		requests: make(chan struct{}, 1),
		results:  make(chan gunzipResult, 1),
	}
}

// GunzipSource inflates a gzip compressed ByteSource.
type GunzipSource struct {
	inflated *ReaderSource
	src      ByteSource

	ctx  context.Context
	stop context.CancelFunc

	startOnce  sync.Once
	cancelOnce sync.Once
	requests   chan struct{}
	results    chan gunzipResult

	// Only touched by Read, which callers don't overlap.
	waiting bool
	last    *gunzipResult
}

type gunzipResult struct {
	chunk []byte
	done  bool
	err   error
}

// Read implements ByteSource. If ctx ends first its error is returned
// and the chunk being inflated is delivered by the next Read.
func (g *GunzipSource) Read(ctx context.Context) ([]byte, bool, error) {
	if g.ctx.Err() != nil {
		return nil, false, ErrSourceCancelled
	}
	if g.last != nil {
		if g.last.err != nil {
			return nil, false, g.last.err
		}
		return nil, false, ErrSourceExhausted
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if !g.waiting {
		g.startOnce.Do(func() { go g.inflate() })
		g.requests <- struct{}{}
		g.waiting = true
	}

	select {
	case r := <-g.results:
		g.waiting = false
		if r.done || r.err != nil {
			g.last = &r
		}
		return r.chunk, r.done, r.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-g.ctx.Done():
		return nil, false, ErrSourceCancelled
	}
}

// inflate answers requests from Read until the stream ends or the
// source is cancelled.
func (g *GunzipSource) inflate() {
	for {
		select {
		case <-g.requests:
		case <-g.ctx.Done():
			return
		}
		chunk, done, err := g.inflated.Read(g.ctx)
		if g.ctx.Err() != nil {
			return
		}
		g.results <- gunzipResult{chunk: chunk, done: done, err: err}
		if done || err != nil {
			return
		}
	}
}

// Cancel implements ByteSource, cancelling the wrapped source as well.
func (g *GunzipSource) Cancel() error {
	var result error
	g.cancelOnce.Do(func() {
		g.stop()
		if err := g.inflated.Cancel(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := g.src.Cancel(); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// chunkReader presents a ByteSource as an io.Reader, reading with the
// GunzipSource's own context so only Cancel interrupts it.
type chunkReader struct {
	src     ByteSource
	ctx     context.Context
	pending []byte
	done    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk, done, err := r.src.Read(r.ctx)
		if err != nil {
			return 0, err
		}
		r.pending = chunk
		r.done = done
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// lazyGzipReader defers creating the gzip.Reader (which reads the gzip
// header) until the first Read so that no bytes are pulled before the
// session asks for them.
type lazyGzipReader struct {
	r  io.Reader
	zr *gzip.Reader
}

func (l *lazyGzipReader) Read(p []byte) (int, error) {
	if l.zr == nil {
		zr, err := gzip.NewReader(l.r)
		if err != nil {
			return 0, truncatedAsEOF(err)
		}
		zr.Multistream(false)
		l.zr = zr
	}
	n, err := l.zr.Read(p)
	return n, truncatedAsEOF(err)
}

// truncatedAsEOF maps a stream cut short to a normal end of stream. A
// recording that stops mid-frame decodes up to its last whole frame.
func truncatedAsEOF(err error) error {
	if err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}
