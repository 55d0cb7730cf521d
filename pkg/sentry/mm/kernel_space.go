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
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
)

// Layout holds the kernel image's linker symbols and the memory constants
// address spaces are built from.
type Layout struct {
	Stext         hostarch.PhysAddr
	Etext         hostarch.PhysAddr
	Srodata       hostarch.PhysAddr
	Erodata       hostarch.PhysAddr
	Sdata         hostarch.PhysAddr
	Edata         hostarch.PhysAddr
	SbssWithStack hostarch.PhysAddr
	Ebss          hostarch.PhysAddr
	Ekernel       hostarch.PhysAddr

	// Strampoline is the physical address of the trampoline code page.
	Strampoline hostarch.PhysAddr

	// MemoryEnd is the top of physical memory.
	MemoryEnd hostarch.PhysAddr

	// UserStackSize is the size of every user stack in bytes.
	UserStackSize uint64
}

// DefaultLayout returns the layout of the reference kernel image on a QEMU
// virt machine with 8 MiB of memory.
func DefaultLayout() Layout {
	return Layout{
		Stext:         0x80200000,
		Etext:         0x8020a000,
		Srodata:       0x8020a000,
		Erodata:       0x8020d000,
		Sdata:         0x8020d000,
		Edata:         0x8020e000,
		SbssWithStack: 0x8020e000,
		Ebss:          0x80230000,
		Ekernel:       0x80230000,
		Strampoline:   0x80209000,
		MemoryEnd:     0x80800000,
		UserStackSize: 2 * hostarch.PageSize,
	}
}

// FrameRange returns the physical pages available to the frame allocator:
// everything between the end of the kernel image and the end of memory.
func (l Layout) FrameRange() (start, end hostarch.PhysPageNum) {
	return l.Ekernel.Ceil(), l.MemoryEnd.Floor()
}

type section struct {
	name       string
	start, end hostarch.PhysAddr
	perm       MapPermission
}

func (l Layout) sections() []section {
	return []section{
		{".text", l.Stext, l.Etext, PermR | PermX},
		{".rodata", l.Srodata, l.Erodata, PermR},
		{".data", l.Sdata, l.Edata, PermR | PermW},
		{".bss", l.SbssWithStack, l.Ebss, PermR | PermW},
		{"[physical]", l.Ekernel, l.MemoryEnd, PermR | PermW},
	}
}

// Validate checks that the sections are ordered and do not overlap, and that
// the trampoline lies inside the text section.
func (l Layout) Validate() error {
	var prev section
	for i, s := range l.sections() {
		if s.start > s.end {
			return fmt.Errorf("section %s [%v, %v) is inverted: %w", s.name, s.start, s.end, linuxerr.EINVAL)
		}
		// Areas cover whole pages, so an unaligned boundary would make
		// neighbouring sections share a page.
		if s.start.PageOffset() != 0 || s.end.PageOffset() != 0 {
			return fmt.Errorf("section %s [%v, %v) is not page aligned: %w", s.name, s.start, s.end, linuxerr.EINVAL)
		}
		if i > 0 && s.start < prev.end {
			return fmt.Errorf("section %s starts at %v, before the end of %s at %v: %w", s.name, s.start, prev.name, prev.end, linuxerr.EINVAL)
		}
		prev = s
	}
	if l.Strampoline.PageOffset() != 0 {
		return fmt.Errorf("strampoline %v is not page aligned: %w", l.Strampoline, linuxerr.EINVAL)
	}
	if l.Strampoline < l.Stext || l.Strampoline >= l.Etext {
		return fmt.Errorf("strampoline %v outside .text [%v, %v): %w", l.Strampoline, l.Stext, l.Etext, linuxerr.EINVAL)
	}
	if l.UserStackSize == 0 || l.UserStackSize%hostarch.PageSize != 0 {
		return fmt.Errorf("user stack size %#x is not a positive multiple of the page size: %w", l.UserStackSize, linuxerr.EINVAL)
	}
	return nil
}

// NewKernelSpace builds the kernel address space: the trampoline plus one
// Identical area per kernel section and one for the rest of physical memory.
func NewKernelSpace(alloc Allocator, l Layout) (*MemorySet, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	ms := NewBare(alloc)
	if err := ms.MapTrampoline(l.Strampoline); err != nil {
		ms.Release()
		return nil, err
	}
	for _, s := range l.sections() {
		log.Infof("Mapping %s [%v, %v)", s.name, s.start, s.end)
		if s.start == s.end {
			continue
		}
		a := NewArea(hostarch.VirtAddr(s.start), hostarch.VirtAddr(s.end), Identical, s.perm).Named(s.name)
		if err := ms.Push(a, nil); err != nil {
			ms.Release()
			return nil, fmt.Errorf("mapping %s: %w", s.name, err)
		}
	}
	return ms, nil
}

// VerifyKernelSpace checks that .text and .rodata are not writable and .data
// is not executable, checking the middle page of each.
func VerifyKernelSpace(ms *MemorySet, l Layout) error {
	mid := func(start, end hostarch.PhysAddr) hostarch.VirtPageNum {
		return hostarch.VirtAddr(start + (end-start)/2).Floor()
	}
	for _, c := range []struct {
		name       string
		start, end hostarch.PhysAddr
		bad        func(pagetables.PTE) bool
	}{
		{".text", l.Stext, l.Etext, pagetables.PTE.Writable},
		{".rodata", l.Srodata, l.Erodata, pagetables.PTE.Writable},
		{".data", l.Sdata, l.Edata, pagetables.PTE.Executable},
	} {
		vpn := mid(c.start, c.end)
		pte, ok := ms.Translate(vpn)
		if !ok {
			return fmt.Errorf("%s page %v is not mapped: %w", c.name, vpn, linuxerr.EFAULT)
		}
		if c.bad(pte) {
			return fmt.Errorf("%s page %v has wrong permissions %s: %w", c.name, vpn, pte.Flags(), linuxerr.EACCES)
		}
	}
	log.Infof("Kernel address space passed the remap check")
	return nil
}
