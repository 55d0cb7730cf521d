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
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/sentry/arch"
	"gvisor.dev/sv39/pkg/sentry/kernel"
	"gvisor.dev/sv39/pkg/sentry/mm"
)

// userRange returns the pages covering [start, start+length). ok is false if
// the range wraps or leaves the address space.
func userRange(start hostarch.VirtAddr, length uint64) (r hostarch.VPNRange, ok bool) {
	end := uint64(start) + length
	if end < uint64(start) || end > 1<<hostarch.VAWidth {
		return hostarch.VPNRange{}, false
	}
	return hostarch.VPNRange{
		Start: hostarch.VirtPageNum(uint64(start) >> hostarch.PageShift),
		End:   hostarch.VirtPageNum((end + hostarch.PageSize - 1) >> hostarch.PageShift),
	}, true
}

// Mmap implements mmap(start, len, prot). A partial last page is mapped in
// full. The mapping is always user accessible.
func Mmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	start := args[0].Pointer()
	length := args[1].Uint64()
	prot := args[2].Uint64()

	if length == 0 {
		return 0, nil
	}
	if !start.Aligned() {
		rejectLog.Warningf("%v: mmap of unaligned address %v", t, start)
		return 0, linuxerr.EINVAL
	}
	at, ok := hostarch.ProtToAccessType(prot)
	if !ok {
		rejectLog.Warningf("%v: mmap with invalid prot %#x", t, prot)
		return 0, linuxerr.EINVAL
	}
	r, ok := userRange(start, length)
	if !ok {
		rejectLog.Warningf("%v: mmap of %v+%#x leaves the address space", t, start, length)
		return 0, linuxerr.EINVAL
	}
	perm := mm.PermissionFromAccessType(at) | mm.PermU

	return 0, t.WithMemorySet(func(ms *mm.MemorySet) error {
		if !ms.JudgeMapRight(r) {
			rejectLog.Warningf("%v: mmap of %v overlaps an unrealized area", t, r)
			return linuxerr.EEXIST
		}
		log.Debugf("%v: mmap %v %v", t, r, perm)
		return ms.MMap(r, perm)
	})
}

// Munmap implements munmap(start, len).
func Munmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	start := args[0].Pointer()
	length := args[1].Uint64()

	if !start.Aligned() {
		rejectLog.Warningf("%v: munmap of unaligned address %v", t, start)
		return 0, linuxerr.EINVAL
	}
	if length == 0 {
		return 0, nil
	}
	r, ok := userRange(start, length)
	if !ok {
		rejectLog.Warningf("%v: munmap of %v+%#x leaves the address space", t, start, length)
		return 0, linuxerr.EINVAL
	}

	return 0, t.WithMemorySet(func(ms *mm.MemorySet) error {
		if !ms.JudgeUnmapRight(r) {
			rejectLog.Warningf("%v: munmap of %v covers unmapped pages", t, r)
			return linuxerr.EINVAL
		}
		log.Debugf("%v: munmap %v", t, r)
		return ms.MUnmap(r)
	})
}
