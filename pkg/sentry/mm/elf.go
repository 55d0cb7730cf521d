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
	"bytes"
	"debug/elf"
	"fmt"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
)

// Image is the result of loading an ELF image.
type Image struct {
	// MemorySet is the new address space.
	MemorySet *MemorySet

	// StackTop is the initial user stack pointer.
	StackTop hostarch.VirtAddr

	// Entry is the program entry point.
	Entry hostarch.VirtAddr
}

// parseELF validates the header of image and returns its loadable segments.
func parseELF(image []byte) (*elf.File, []*elf.Prog, error) {
	if len(image) < len(elf.ELFMAG) || string(image[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, nil, fmt.Errorf("bad ELF magic: %w", linuxerr.ENOEXEC)
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing ELF: %v: %w", err, linuxerr.ENOEXEC)
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, nil, fmt.Errorf("unsupported ELF class %v: %w", f.Class, linuxerr.ENOEXEC)
	}
	var loads []*elf.Prog
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, nil, fmt.Errorf("segment at %#x has file size %#x > memory size %#x: %w", p.Vaddr, p.Filesz, p.Memsz, linuxerr.ENOEXEC)
		}
		if p.Off > uint64(len(image)) || p.Filesz > uint64(len(image))-p.Off {
			return nil, nil, fmt.Errorf("segment at %#x extends past the end of the image: %w", p.Vaddr, linuxerr.ENOEXEC)
		}
		if p.Vaddr+p.Memsz < p.Vaddr || p.Vaddr+p.Memsz > uint64(TrapContextAddr) {
			return nil, nil, fmt.Errorf("segment [%#x, +%#x) outside user memory: %w", p.Vaddr, p.Memsz, linuxerr.ENOEXEC)
		}
		loads = append(loads, p)
	}
	if len(loads) == 0 {
		return nil, nil, fmt.Errorf("no loadable segments: %w", linuxerr.ENOEXEC)
	}
	return f, loads, nil
}

// progPermission converts ELF segment flags to a user permission.
func progPermission(flags elf.ProgFlag) MapPermission {
	perm := PermU
	if flags&elf.PF_R != 0 {
		perm |= PermR
	}
	if flags&elf.PF_W != 0 {
		perm |= PermW
	}
	if flags&elf.PF_X != 0 {
		perm |= PermX
	}
	return perm
}

// FromELF builds a user address space from an ELF image: one Framed area per
// PT_LOAD segment, a guard page, the user stack, the trap context page and
// the trampoline.
func FromELF(alloc Allocator, l Layout, image []byte) (*Image, error) {
	f, loads, err := parseELF(image)
	if err != nil {
		return nil, err
	}

	ms := NewBare(alloc)
	if err := ms.MapTrampoline(l.Strampoline); err != nil {
		ms.Release()
		return nil, err
	}

	var maxEnd hostarch.VirtPageNum
	for _, p := range loads {
		start := hostarch.VirtAddr(p.Vaddr)
		end := hostarch.VirtAddr(p.Vaddr + p.Memsz)
		a := NewArea(start, end, Framed, progPermission(p.Flags))
		if a.Range().Empty() {
			continue
		}
		if a.Range().End > maxEnd {
			maxEnd = a.Range().End
		}
		data := image[p.Off : p.Off+p.Filesz]
		if err := ms.pushAt(a, start.PageOffset(), data); err != nil {
			ms.Release()
			return nil, fmt.Errorf("loading segment [%v, %v): %w", start, end, err)
		}
		log.Debugf("Loaded segment %v", a)
	}

	// One unmapped guard page sits between the image and the stack.
	stackBottom := maxEnd.Addr() + hostarch.PageSize
	stackTop := stackBottom + hostarch.VirtAddr(l.UserStackSize)
	if stackTop > TrapContextAddr {
		ms.Release()
		return nil, fmt.Errorf("user stack [%v, %v) collides with the trap context: %w", stackBottom, stackTop, linuxerr.ENOMEM)
	}
	if err := ms.Push(NewArea(stackBottom, stackTop, Framed, PermR|PermW|PermU).Named("[stack]"), nil); err != nil {
		ms.Release()
		return nil, fmt.Errorf("mapping user stack: %w", err)
	}
	if err := ms.Push(NewArea(TrapContextAddr, TrampolineAddr, Framed, PermR|PermW).Named("[trap_context]"), nil); err != nil {
		ms.Release()
		return nil, fmt.Errorf("mapping trap context: %w", err)
	}

	return &Image{
		MemorySet: ms,
		StackTop:  stackTop,
		Entry:     hostarch.VirtAddr(f.Entry),
	}, nil
}
