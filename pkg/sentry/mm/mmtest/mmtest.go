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

// Package mmtest provides helpers for address space tests: an allocator over
// the default physical layout and a builder for minimal ELF images.
package mmtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/pgalloc"
)

// NewAllocator returns a frame allocator over [ekernel, memoryEnd) of
// simulated memory.
func NewAllocator(ekernel, memoryEnd hostarch.PhysAddr) *pgalloc.Allocator {
	mem := pgalloc.NewMemory(memoryEnd.Floor())
	return pgalloc.NewAllocator(mem, ekernel.Ceil(), memoryEnd.Floor())
}

// Segment is one PT_LOAD program header.
type Segment struct {
	Vaddr uint64
	Flags elf.ProgFlag
	Data  []byte

	// Memsz is the segment's size in memory. If zero, len(Data) is used.
	Memsz uint64
}

const (
	ehdrSize = 64
	phdrSize = 56
)

// BuildELF returns a little-endian RISC-V ELF64 executable with the given
// entry point and segments.
func BuildELF(entry uint64, segs ...Segment) []byte {
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)

	off := uint64(ehdrSize + phdrSize*len(segs))
	for _, s := range segs {
		memsz := s.Memsz
		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}
		binary.Write(&buf, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  memsz,
			Align:  hostarch.PageSize,
		})
		off += uint64(len(s.Data))
	}
	for _, s := range segs {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}
