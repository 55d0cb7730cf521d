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
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter writes lines in the glog format:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// where L is the level's initial and pid is padded to seven columns.
type GoogleEmitter struct {
	*Writer
}

// glogTime is the mmdd hh:mm:ss.uuuuuu part of the header.
const glogTime = "0102 15:04:05.000000"

var pid = os.Getpid()

// Emit emits the message, google-style.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	file, line := "???", 0
	if _, f, l, ok := runtime.Caller(depth + 1); ok {
		file, line = f[strings.LastIndexByte(f, '/')+1:], l
	}
	b := make([]byte, 0, 128)
	b = append(b, level.String()[0])
	b = timestamp.AppendFormat(b, glogTime)
	b = fmt.Appendf(b, " %7d %s:%d] ", pid, file, line)
	b = fmt.Appendf(b, format, args...)
	g.Writer.Write(append(b, '\n'))
}
