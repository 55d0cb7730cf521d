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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PatternOpts expands the %COMMAND% and %TIMESTAMP% variables in a log
// file pattern.
type PatternOpts struct {
	// Command is the subcommand name, e.g. "load".
	Command string

	// Time is used for %TIMESTAMP%, in nanoseconds since the epoch.
	Time time.Time
}

// Build returns logPattern with its variables expanded.
func (o PatternOpts) Build(logPattern string) string {
	return strings.NewReplacer(
		"%COMMAND%", o.Command,
		"%TIMESTAMP%", strconv.FormatInt(o.Time.UnixNano(), 10),
	).Replace(logPattern)
}

// OpenFile expands logPattern and opens the result with flags, creating its
// directory if needed. An empty pattern returns a nil file.
func OpenFile(logPattern string, flags int, opts PatternOpts) (*os.File, error) {
	if logPattern == "" {
		return nil, nil
	}
	logPath := opts.Build(logPattern)
	if err := os.MkdirAll(filepath.Dir(logPath), 0775); err != nil {
		return nil, fmt.Errorf("creating log directory for %q: %w", logPath, err)
	}
	f, err := os.OpenFile(logPath, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
