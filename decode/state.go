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

// State is the lifecycle stage of a Session.
type State int

const (
	// Uninitialized sessions haven't read any bytes yet.
	Uninitialized State = iota
	// AwaitingHeader sessions are reading the header.
	AwaitingHeader
	// StreamingFrames sessions have returned the header and are
	// returning frames.
	StreamingFrames
	// Exhausted sessions have reached the end of the stream (or failed).
	Exhausted
	// Cancelled sessions have had Cancel called.
	Cancelled
)

var stateNames = map[State]string{
	Uninitialized:   "uninitialized",
	AwaitingHeader:  "awaiting-header",
	StreamingFrames: "streaming-frames",
	Exhausted:       "exhausted",
	Cancelled:       "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
