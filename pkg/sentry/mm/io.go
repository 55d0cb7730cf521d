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

package mm

import (
	"fmt"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
)

// User memory is reached from kernel code by translating each touched page
// through the task's page table (usually a pagetables.View built from the
// task's token) and reading or writing the backing physical page directly.

// checkRange returns the byte range [addr, addr+length) if it does not wrap
// or leave the SV39 address space.
func checkRange(addr hostarch.VirtAddr, length uint64) (end hostarch.VirtAddr, ok bool) {
	e := uint64(addr) + length
	if e < uint64(addr) || e > 1<<hostarch.VAWidth {
		return 0, false
	}
	return hostarch.VirtAddr(e), true
}

// TranslatedByteBuffer returns the physical byte slices backing the user
// buffer [addr, addr+length), one per touched page. It fails with EFAULT if
// any page is unmapped.
func TranslatedByteBuffer(t pagetables.Translator, mem pagetables.PhysMem, addr hostarch.VirtAddr, length uint64) ([][]byte, error) {
	end, ok := checkRange(addr, length)
	if !ok {
		return nil, linuxerr.EFAULT
	}
	var bufs [][]byte
	for cur := addr; cur < end; {
		vpn := cur.Floor()
		pte, ok := t.Translate(vpn)
		if !ok {
			return nil, fmt.Errorf("user buffer page %v not mapped: %w", vpn, linuxerr.EFAULT)
		}
		pageEnd := hostarch.VirtAddr((uint64(vpn) + 1) << hostarch.PageShift)
		if end < pageEnd {
			pageEnd = end
		}
		page := mem.Page(pte.PPN())
		bufs = append(bufs, page[cur.PageOffset():cur.PageOffset()+uint64(pageEnd-cur)])
		cur = pageEnd
	}
	return bufs, nil
}

// CheckUserAccess returns EFAULT unless every page of [addr, addr+length) is
// mapped, user accessible and permits at.
func CheckUserAccess(t pagetables.Translator, addr hostarch.VirtAddr, length uint64, at hostarch.AccessType) error {
	end, ok := checkRange(addr, length)
	if !ok {
		return linuxerr.EFAULT
	}
	if length == 0 {
		return nil
	}
	last := hostarch.VirtPageNum((uint64(end) - 1) >> hostarch.PageShift)
	for vpn := addr.Floor(); ; vpn++ {
		pte, ok := t.Translate(vpn)
		if !ok || !pte.User() || !pte.Flags().AccessType().SupersetOf(at) {
			return fmt.Errorf("user access %v to %v denied: %w", at, vpn, linuxerr.EFAULT)
		}
		if vpn == last {
			break
		}
	}
	return nil
}

// CopyOut copies src to user memory at addr.
func CopyOut(t pagetables.Translator, mem pagetables.PhysMem, addr hostarch.VirtAddr, src []byte) (int, error) {
	bufs, err := TranslatedByteBuffer(t, mem, addr, uint64(len(src)))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bufs {
		n += copy(b, src[n:])
	}
	return n, nil
}

// CopyIn copies len(dst) bytes of user memory at addr into dst.
func CopyIn(t pagetables.Translator, mem pagetables.PhysMem, addr hostarch.VirtAddr, dst []byte) (int, error) {
	bufs, err := TranslatedByteBuffer(t, mem, addr, uint64(len(dst)))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bufs {
		n += copy(dst[n:], b)
	}
	return n, nil
}
