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

// Package source provides ByteSource, the pull interface a decode
// session reads CPTV bytes through, along with adapters for in-memory
// buffers, io.Readers, gzip streams and rate-limited delivery.
package source

import (
	"context"
	"errors"
)

var (
	// ErrSourceCancelled is returned by Read once Cancel has been called.
	ErrSourceCancelled = errors.New("source cancelled")

	// ErrSourceExhausted is returned by Read after the final chunk has
	// already been delivered.
	ErrSourceExhausted = errors.New("source exhausted")
)

// ByteSource yields a stream as a sequence of chunks.
//
// Read blocks until the next chunk is available. The final chunk is
// returned together with done=true; there is no trailing empty read.
// Calls to Read must not overlap.
//
// Cancel releases any resources held by the source. Reads after
// Cancel fail with ErrSourceCancelled.
type ByteSource interface {
	Read(ctx context.Context) (chunk []byte, done bool, err error)
	Cancel() error
}
