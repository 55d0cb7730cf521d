// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger limits each message class independently. A class is the
// format string passed by the caller, so one noisy kind of rejected request
// cannot hide another.
type rateLimitedLogger struct {
	logger Logger
	every  time.Duration

	mu      sync.Mutex
	classes map[string]*limitedClass
}

type limitedClass struct {
	limit   *rate.Limiter
	dropped int
}

// admit reports whether a message of the given class may be logged and
// returns its arguments, extended with a suppression note when earlier
// messages of the class were dropped.
func (rl *rateLimitedLogger) admit(format string, v []any) (string, []any, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.classes[format]
	if !ok {
		c = &limitedClass{limit: rate.NewLimiter(rate.Every(rl.every), 1)}
		rl.classes[format] = c
	}
	if !c.limit.Allow() {
		c.dropped++
		return "", nil, false
	}
	if c.dropped == 0 {
		return format, v, true
	}
	dropped := c.dropped
	c.dropped = 0
	return format + " (%d similar messages suppressed)", append(v[:len(v):len(v)], dropped), true
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if f, args, ok := rl.admit(format, v); ok {
		rl.logger.Debugf(f, args...)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if f, args, ok := rl.admit(format, v); ok {
		rl.logger.Infof(f, args...)
	}
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if f, args, ok := rl.admit(format, v); ok {
		rl.logger.Warningf(f, args...)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs each message class to the
// global logger no more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs each message class to the
// provided logger no more than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger:  logger,
		every:   every,
		classes: make(map[string]*limitedClass),
	}
}
