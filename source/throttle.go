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
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
)

// NewThrottledSource returns a ByteSource which delivers the chunks of
// src no faster than bytesPerSec, allowing bursts of up to burst
// bytes.
func NewThrottledSource(src ByteSource, bytesPerSec float64, burst int64) *ThrottledSource {
	return NewThrottledSourceWithClock(src, bytesPerSec, burst, realClock{})
}

// NewThrottledSourceWithClock is NewThrottledSource with a
// configurable clock (for testing).
func NewThrottledSourceWithClock(
	src ByteSource,
	bytesPerSec float64,
	burst int64,
	clock ratelimit.Clock,
) *ThrottledSource {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledSource{
		src:    src,
		bucket: ratelimit.NewBucketWithRateAndClock(bytesPerSec, burst, clock),
		after:  time.After,
	}
}

// ThrottledSource rate limits another ByteSource using a token bucket
// of bytes.
type ThrottledSource struct {
	src    ByteSource
	bucket *ratelimit.Bucket
	after  func(time.Duration) <-chan time.Time

	// A chunk whose delivery wait was interrupted.
	pending     []byte
	pendingDone bool
	havePending bool

	cancelled int32
}

// Read implements ByteSource.
func (s *ThrottledSource) Read(ctx context.Context) ([]byte, bool, error) {
	if atomic.LoadInt32(&s.cancelled) == 1 {
		s.pending, s.havePending = nil, false
		return nil, false, ErrSourceCancelled
	}
	if s.havePending {
		return s.deliver(ctx, 0)
	}

	chunk, done, err := s.src.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	s.pending, s.pendingDone, s.havePending = chunk, done, true
	return s.deliver(ctx, s.bucket.Take(int64(len(chunk))))
}

func (s *ThrottledSource) deliver(ctx context.Context, wait time.Duration) ([]byte, bool, error) {
	if wait > 0 {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-s.after(wait):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	chunk, done := s.pending, s.pendingDone
	s.pending, s.pendingDone, s.havePending = nil, false, false
	return chunk, done, nil
}

// Cancel implements ByteSource.
func (s *ThrottledSource) Cancel() error {
	atomic.StoreInt32(&s.cancelled, 1)
	return s.src.Cancel()
}

// realClock implements ratelimit.Clock in terms of standard time functions.
type realClock struct{}

// Now implements Clock.Now by calling time.Now.
func (realClock) Now() time.Time {
	return time.Now()
}

// Sleep implements Clock.Sleep by calling time.Sleep.
func (realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
