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

package pagetables

import (
	"fmt"

	"gvisor.dev/sv39/pkg/bits"
	"gvisor.dev/sv39/pkg/hostarch"
)

// PTEFlags are the low eight bits of an SV39 page table entry.
type PTEFlags uint8

// Page table entry flags.
const (
	Valid PTEFlags = 1 << iota
	Readable
	Writable
	Executable
	User
	Global
	Accessed
	Dirty
)

const (
	flagsWidth = 8
	ppnShift   = 10
)

// Has returns true if every flag in o is set in f.
func (f PTEFlags) Has(o PTEFlags) bool {
	return bits.IsOn(f, o)
}

// Valid returns true if the V bit is set.
func (f PTEFlags) Valid() bool { return f.Has(Valid) }

// Readable returns true if the R bit is set.
func (f PTEFlags) Readable() bool { return f.Has(Readable) }

// Writable returns true if the W bit is set.
func (f PTEFlags) Writable() bool { return f.Has(Writable) }

// Executable returns true if the X bit is set.
func (f PTEFlags) Executable() bool { return f.Has(Executable) }

// User returns true if the U bit is set.
func (f PTEFlags) User() bool { return f.Has(User) }

// AccessType returns the R/W/X bits as a hostarch.AccessType.
func (f PTEFlags) AccessType() hostarch.AccessType {
	return hostarch.AccessType{
		Read:    f.Readable(),
		Write:   f.Writable(),
		Execute: f.Executable(),
	}
}

// String renders the flags in "DAGUXWRV" order, with '-' for clear bits.
func (f PTEFlags) String() string {
	const names = "VRWXUGAD"
	var b [flagsWidth]byte
	for i := 0; i < flagsWidth; i++ {
		b[flagsWidth-1-i] = '-'
		if f&(1<<i) != 0 {
			b[flagsWidth-1-i] = names[i]
		}
	}
	return string(b[:])
}

// PTE is an SV39 page table entry: the physical page number in bits 10..53
// and the flags in bits 0..7.
type PTE uint64

// NewPTE packs ppn and flags into an entry.
func NewPTE(ppn hostarch.PhysPageNum, flags PTEFlags) PTE {
	v := bits.SetField(uint64(0), ppnShift, hostarch.PPNWidth, uint64(ppn))
	return PTE(v | uint64(flags))
}

// PPN returns the physical page number the entry points to.
func (p PTE) PPN() hostarch.PhysPageNum {
	return hostarch.PhysPageNum(bits.Field(uint64(p), ppnShift, hostarch.PPNWidth))
}

// Flags returns the entry's flag bits.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(bits.Field(uint64(p), 0, flagsWidth))
}

// Valid returns true if the entry is valid.
func (p PTE) Valid() bool { return p.Flags().Valid() }

// Readable returns true if the entry permits reads.
func (p PTE) Readable() bool { return p.Flags().Readable() }

// Writable returns true if the entry permits writes.
func (p PTE) Writable() bool { return p.Flags().Writable() }

// Executable returns true if the entry permits instruction fetch.
func (p PTE) Executable() bool { return p.Flags().Executable() }

// User returns true if the entry is accessible from user mode.
func (p PTE) User() bool { return p.Flags().User() }

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("pte{%v %s}", p.PPN(), p.Flags())
}
