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

package loglimiter

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Logger is the subset of *log.Logger used by LogLimiter.
type Logger interface {
	Print(v ...interface{})
}

type stdLogger struct{}

func (stdLogger) Print(v ...interface{}) {
	log.Print(v...)
}

// New returns a LogLimiter writing to the standard logger with the
// configured minimum log interval.
func New(interval time.Duration) *LogLimiter {
	return NewWithLogger(interval, stdLogger{})
}

// NewWithLogger returns a LogLimiter writing to logger.
func NewWithLogger(interval time.Duration, logger Logger) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		logger:   logger,
		nowFunc:  time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// LogLimiter suppresses a log message if the same message was logged
// within some time interval. Each distinct message is limited
// separately, so connections failing with different errors don't hide
// each other. It is safe for concurrent use.
type LogLimiter struct {
	interval time.Duration
	logger   Logger
	nowFunc  func() time.Time

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	suppressed map[string]int
}

// Printf formats and logs a message unless it is being suppressed.
func (limiter *LogLimiter) Printf(format string, v ...interface{}) {
	limiter.Print(fmt.Sprintf(format, v...))
}

// Print logs s unless it is being suppressed. When a message is logged
// again after being suppressed the number of repeats is included.
func (limiter *LogLimiter) Print(s string) {
	limiter.mu.Lock()
	now := limiter.nowFunc()
	if last, ok := limiter.lastSeen[s]; ok && now.Sub(last) < limiter.interval {
		if limiter.suppressed == nil {
			limiter.suppressed = make(map[string]int)
		}
		limiter.suppressed[s]++
		limiter.mu.Unlock()
		return
	}
	repeats := limiter.suppressed[s]
	delete(limiter.suppressed, s)
	limiter.lastSeen[s] = now
	limiter.expire(now)
	limiter.mu.Unlock()

	if repeats > 0 {
		limiter.logger.Print(fmt.Sprintf("%s (repeated %d times)", s, repeats))
	} else {
		limiter.logger.Print(s)
	}
}

// expire forgets messages which are no longer being suppressed.
func (limiter *LogLimiter) expire(now time.Time) {
	for s, last := range limiter.lastSeen {
		if now.Sub(last) >= limiter.interval && limiter.suppressed[s] == 0 {
			delete(limiter.lastSeen, s)
		}
	}
}
