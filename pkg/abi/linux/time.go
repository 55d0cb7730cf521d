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

// Package linux contains the riscv64 user ABI structures copied in and out
// of user memory, with their little-endian encodings.
package linux

import (
	"encoding/binary"
	"time"
)

// SizeOfTimeval is the size of a Timeval struct in bytes.
const SizeOfTimeval = 16

// Timeval represents struct timeval in <time.h>.
type Timeval struct {
	Sec  int64
	Usec int64
}

// ToTime returns the Go time.Time representation.
func (tv Timeval) ToTime() time.Time {
	return time.Unix(tv.Sec, tv.Usec*1e3)
}

// NsecToTimeval translates nanoseconds since the epoch to a Timeval,
// truncating to the microsecond.
func NsecToTimeval(nsec int64) (tv Timeval) {
	tv.Sec = nsec / 1e9
	tv.Usec = nsec % 1e9 / 1e3
	return
}

// SizeBytes returns the encoded size of tv.
func (tv *Timeval) SizeBytes() int {
	return SizeOfTimeval
}

// MarshalBytes serializes tv into dst.
func (tv *Timeval) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(tv.Sec))
	binary.LittleEndian.PutUint64(dst[8:], uint64(tv.Usec))
}

// UnmarshalBytes deserializes src into tv.
func (tv *Timeval) UnmarshalBytes(src []byte) {
	tv.Sec = int64(binary.LittleEndian.Uint64(src[0:]))
	tv.Usec = int64(binary.LittleEndian.Uint64(src[8:]))
}
