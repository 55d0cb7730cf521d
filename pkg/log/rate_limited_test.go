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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debugf(format string, v ...any) {
	r.lines = append(r.lines, "D "+fmt.Sprintf(format, v...))
}

func (r *recordingLogger) Infof(format string, v ...any) {
	r.lines = append(r.lines, "I "+fmt.Sprintf(format, v...))
}

func (r *recordingLogger) Warningf(format string, v ...any) {
	r.lines = append(r.lines, "W "+fmt.Sprintf(format, v...))
}

func (r *recordingLogger) IsLogging(Level) bool { return true }

func TestRateLimitedPerClass(t *testing.T) {
	r := &recordingLogger{}
	l := RateLimitedLogger(r, time.Hour)
	l.Warningf("mmap of unaligned address %#x", 0x1001)
	l.Warningf("mmap of unaligned address %#x", 0x1002)
	l.Warningf("munmap of %#x covers unmapped pages", 0x2000)
	l.Infof("munmap of %#x covers unmapped pages", 0x3000)

	want := []string{
		"W mmap of unaligned address 0x1001",
		"W munmap of 0x2000 covers unmapped pages",
	}
	if diff := cmp.Diff(want, r.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitedReportsSuppressed(t *testing.T) {
	r := &recordingLogger{}
	const every = 10 * time.Millisecond
	l := RateLimitedLogger(r, every)
	for i := 0; i < 3; i++ {
		l.Warningf("task %d rejected", i)
	}
	time.Sleep(3 * every)
	args := []any{9}
	l.Warningf("task %d rejected", args...)

	want := []string{
		"W task 0 rejected",
		"W task 9 rejected (2 similar messages suppressed)",
	}
	if diff := cmp.Diff(want, r.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if len(args) != 1 {
		t.Errorf("caller arguments modified: %v", args)
	}
}
