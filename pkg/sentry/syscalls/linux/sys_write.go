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
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
	"gvisor.dev/sv39/pkg/sentry/arch"
	"gvisor.dev/sv39/pkg/sentry/kernel"
	"gvisor.dev/sv39/pkg/sentry/mm"
)

const stdoutFD = 1

// Write implements write(fd, buf, len). Only standard output is supported.
// Every page of the buffer must be readable from user mode.
func Write(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	var n int
	err := withCurrentView(t, func(v pagetables.View, mem *pgalloc.Memory) error {
		if err := mm.CheckUserAccess(v, addr, uint64(size), hostarch.Read); err != nil {
			rejectLog.Warningf("%v: write from %v+%#x: %v", t, addr, size, err)
			return err
		}
		if fd != stdoutFD {
			return linuxerr.EBADF
		}
		bufs, err := mm.TranslatedByteBuffer(v, mem, addr, uint64(size))
		if err != nil {
			return err
		}
		for _, b := range bufs {
			m, err := t.Kernel().Stdout().Write(b)
			n += m
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && n == 0 {
		return 0, err
	}
	return uintptr(n), nil
}
