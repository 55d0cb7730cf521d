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

// Package linux provides the riscv64 syscall table and the memory management
// syscalls.
package linux

import (
	"time"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/sentry/kernel"
)

// Syscall numbers.
const (
	SysWrite        = 64
	SysGetTimeOfDay = 169
	SysMunmap       = 215
	SysMmap         = 222
	SysTaskInfo     = 410
)

// RISCV64 is the table of supported riscv64 syscalls. The numbers follow the
// Linux generic syscall ABI, plus task_info.
var RISCV64 = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		SysWrite:        {Name: "write", Fn: Write},
		SysGetTimeOfDay: {Name: "gettimeofday", Fn: GetTimeOfDay},
		SysMunmap:       {Name: "munmap", Fn: Munmap},
		SysMmap:         {Name: "mmap", Fn: Mmap},
		SysTaskInfo:     {Name: "task_info", Fn: TaskInfo},
	},
}

// rejectLog reports rejected requests without flooding the log when a
// program retries in a loop.
var rejectLog = log.BasicRateLimitedLogger(time.Second)
