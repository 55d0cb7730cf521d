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
)

// MaxSyscallNum bounds the syscall numbers counted per task.
const MaxSyscallNum = 500

// SizeOfTaskInfo is the size of a TaskInfo struct in bytes. Time is 8-byte
// aligned, so four bytes of padding follow SyscallCounts.
const SizeOfTaskInfo = 4 + 4*MaxSyscallNum + 4 + 8

// TaskInfo is the record filled in by task_info.
type TaskInfo struct {
	// Status is the task's scheduling state: 0 uninit, 1 ready, 2 running,
	// 3 exited.
	Status uint32

	// SyscallCounts holds the number of invocations of each syscall.
	SyscallCounts [MaxSyscallNum]uint32

	// Time is the number of milliseconds since the task first ran.
	Time uint64
}

// SizeBytes returns the encoded size of ti.
func (ti *TaskInfo) SizeBytes() int {
	return SizeOfTaskInfo
}

// MarshalBytes serializes ti into dst.
func (ti *TaskInfo) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], ti.Status)
	off := 4
	for _, c := range ti.SyscallCounts {
		binary.LittleEndian.PutUint32(dst[off:], c)
		off += 4
	}
	clear(dst[off : off+4])
	off += 4
	binary.LittleEndian.PutUint64(dst[off:], ti.Time)
}

// UnmarshalBytes deserializes src into ti.
func (ti *TaskInfo) UnmarshalBytes(src []byte) {
	ti.Status = binary.LittleEndian.Uint32(src[0:])
	off := 4
	for i := range ti.SyscallCounts {
		ti.SyscallCounts[i] = binary.LittleEndian.Uint32(src[off:])
		off += 4
	}
	off += 4
	ti.Time = binary.LittleEndian.Uint64(src[off:])
}
