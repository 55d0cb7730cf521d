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

package kernel

import (
	"time"

	"gvisor.dev/sv39/pkg/abi/linux"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/sentry/arch"
)

// SyscallFn is a syscall implementation. It returns the value for the return
// register on success.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, error)

// Syscall is one entry of a SyscallTable.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable maps syscall numbers to implementations.
type SyscallTable struct {
	// Table is the map from syscall numbers to implementations.
	Table map[uintptr]Syscall
}

// Lookup returns the syscall for sysno, if any.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok && sc.Fn != nil
}

var (
	syscallsField = metric.NewField("outcome", []string{"ok", "error", "unknown"})
	syscalls      = metric.MustCreateNewUint64Metric("/kernel/syscalls", "Number of syscalls dispatched, by outcome.", syscallsField)

	unknownSyscallLog = log.BasicRateLimitedLogger(time.Second)
)

// Syscall runs syscall sysno for the running task and returns the value of
// the return register: the result on success, -errno on failure. It returns
// -ESRCH if no task is running.
func (k *Kernel) Syscall(sysno uintptr, args arch.SyscallArguments) int64 {
	k.mu.Lock()
	t := k.current
	if t != nil && sysno < linux.MaxSyscallNum {
		t.syscallCounts[sysno]++
	}
	k.mu.Unlock()
	if t == nil {
		return linuxerr.ToSyscallReturn(linuxerr.ESRCH)
	}

	sc, ok := k.table.Lookup(sysno)
	if !ok {
		syscalls.Increment("unknown")
		unknownSyscallLog.Warningf("Unsupported syscall %d from task %v", sysno, t)
		return linuxerr.ToSyscallReturn(linuxerr.ENOSYS)
	}
	rval, err := sc.Fn(t, args)
	if err != nil {
		syscalls.Increment("error")
		log.Debugf("%v: %s() = %v", t, sc.Name, err)
		return linuxerr.ToSyscallReturn(err)
	}
	syscalls.Increment("ok")
	return int64(rval)
}
