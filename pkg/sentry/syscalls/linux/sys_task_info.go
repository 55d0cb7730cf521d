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
	"time"

	"gvisor.dev/sv39/pkg/abi/linux"
	"gvisor.dev/sv39/pkg/sentry/arch"
	"gvisor.dev/sv39/pkg/sentry/kernel"
)

// TaskInfo implements task_info(info): the caller's status, its per-syscall
// invocation counts and the milliseconds since it first ran.
func TaskInfo(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	addr := args[0].Pointer()
	var elapsed time.Duration
	if first := t.FirstRun(); !first.IsZero() {
		elapsed = t.Kernel().Now().Sub(first)
	}
	info := linux.TaskInfo{
		Status:        uint32(t.Status()),
		SyscallCounts: t.SyscallCounts(),
		Time:          uint64(elapsed.Milliseconds()),
	}
	return 0, copyOutObject(t, addr, &info)
}
