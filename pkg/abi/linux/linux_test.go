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

package linux

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestNsecToTimeval(t *testing.T) {
	for _, tc := range []struct {
		nsec int64
		want Timeval
	}{
		{0, Timeval{}},
		{999, Timeval{}},
		{1500, Timeval{Usec: 1}},
		{3*1e9 + 250*1e6, Timeval{Sec: 3, Usec: 250000}},
	} {
		if got := NsecToTimeval(tc.nsec); got != tc.want {
			t.Errorf("NsecToTimeval(%d) = %+v, want %+v", tc.nsec, got, tc.want)
		}
	}
	now := time.Unix(1700000000, 123456000)
	if got := NsecToTimeval(now.UnixNano()).ToTime(); !got.Equal(now) {
		t.Errorf("ToTime = %v, want %v", got, now)
	}
}

func TestTimevalLayout(t *testing.T) {
	tv := Timeval{Sec: 0x0102030405060708, Usec: 42}
	buf := make([]byte, tv.SizeBytes())
	tv.MarshalBytes(buf)
	if binary.LittleEndian.Uint64(buf[0:]) != 0x0102030405060708 || binary.LittleEndian.Uint64(buf[8:]) != 42 {
		t.Errorf("MarshalBytes = %x", buf)
	}
	var got Timeval
	got.UnmarshalBytes(buf)
	if got != tv {
		t.Errorf("UnmarshalBytes = %+v, want %+v", got, tv)
	}
}

func TestTaskInfoLayout(t *testing.T) {
	if SizeOfTaskInfo%8 != 0 {
		t.Fatalf("SizeOfTaskInfo = %d, not 8-byte aligned", SizeOfTaskInfo)
	}
	ti := TaskInfo{Status: 2, Time: 1234}
	ti.SyscallCounts[64] = 3
	ti.SyscallCounts[MaxSyscallNum-1] = 7
	buf := make([]byte, ti.SizeBytes())
	for i := range buf {
		buf[i] = 0xff
	}
	ti.MarshalBytes(buf)

	if got := binary.LittleEndian.Uint32(buf[4+4*64:]); got != 3 {
		t.Errorf("count of syscall 64 = %d, want 3", got)
	}
	if pad := binary.LittleEndian.Uint32(buf[4+4*MaxSyscallNum:]); pad != 0 {
		t.Errorf("padding = %#x, want 0", pad)
	}
	if got := binary.LittleEndian.Uint64(buf[SizeOfTaskInfo-8:]); got != 1234 {
		t.Errorf("time = %d, want 1234", got)
	}
	var got TaskInfo
	got.UnmarshalBytes(buf)
	if got != ti {
		t.Errorf("UnmarshalBytes did not restore the record")
	}
}
