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

// Package mm provides the address space of a task or of the kernel: a set of
// non-overlapping Areas realized in one page table.
package mm

import (
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
	"gvisor.dev/sv39/pkg/sentry/platform"
)

const (
	// TrampolineAddr is the virtual address of the trampoline page, the
	// highest page of the SV39 address space.
	TrampolineAddr hostarch.VirtAddr = (1 << hostarch.VAWidth) - hostarch.PageSize

	// TrapContextAddr is the virtual address of a task's trap context page,
	// just below the trampoline.
	TrapContextAddr = TrampolineAddr - hostarch.PageSize
)

// Allocator provides frames for both page table nodes and Framed areas.
type Allocator interface {
	pagetables.Allocator
}

// MemorySet is an address space.
//
// MemorySet is not safe for concurrent use.
type MemorySet struct {
	alloc Allocator
	pt    *pagetables.PageTables

	// areas is in insertion order. First-match lookups walk it.
	areas []*Area

	// index orders areas by start page.
	index *btree.BTreeG[*Area]

	// trampoline is true once the trampoline page is mapped.
	trampoline bool
}

func areaLess(a, b *Area) bool {
	return a.vpns.Start < b.vpns.Start
}

// NewBare returns an empty address space with a fresh page table.
func NewBare(alloc Allocator) *MemorySet {
	return &MemorySet{
		alloc: alloc,
		pt:    pagetables.New(alloc),
		index: btree.NewG(8, areaLess),
	}
}

// PageTables returns the address space's page table.
func (ms *MemorySet) PageTables() *pagetables.PageTables {
	return ms.pt
}

// Token returns the page table token.
func (ms *MemorySet) Token() pagetables.Token {
	return ms.pt.Token()
}

// Translate returns the leaf entry for vpn if it is mapped.
func (ms *MemorySet) Translate(vpn hostarch.VirtPageNum) (pagetables.PTE, bool) {
	return ms.pt.Translate(vpn)
}

// TranslateAddr returns the physical address for va if it is mapped.
func (ms *MemorySet) TranslateAddr(va hostarch.VirtAddr) (hostarch.PhysAddr, bool) {
	return ms.pt.TranslateAddr(va)
}

// Areas returns the areas in insertion order.
func (ms *MemorySet) Areas() []*Area {
	return append([]*Area(nil), ms.areas...)
}

// FindArea returns the area whose range contains vpn.
func (ms *MemorySet) FindArea(vpn hostarch.VirtPageNum) (*Area, bool) {
	var found *Area
	ms.index.DescendLessOrEqual(&Area{vpns: hostarch.VPNRange{Start: vpn}}, func(a *Area) bool {
		if a.vpns.Contains(vpn) {
			found = a
		}
		return false
	})
	return found, found != nil
}

// overlapping returns an area sharing a page with r, if any.
func (ms *MemorySet) overlapping(r hostarch.VPNRange) (*Area, bool) {
	if r.Empty() {
		return nil, false
	}
	var found *Area
	ms.index.DescendLessOrEqual(&Area{vpns: hostarch.VPNRange{Start: r.End - 1}}, func(a *Area) bool {
		if a.vpns.Overlaps(r) {
			found = a
		}
		return false
	})
	return found, found != nil
}

// Push maps every page of a, copies data to its start if data is not nil,
// and adds it to the address space. a must not overlap an existing area.
func (ms *MemorySet) Push(a *Area, data []byte) error {
	return ms.pushAt(a, 0, data)
}

// pushAt is Push with data copied off bytes into the area.
func (ms *MemorySet) pushAt(a *Area, off uint64, data []byte) error {
	if a.vpns.Empty() {
		return fmt.Errorf("push of empty area %v: %w", a.vpns, linuxerr.EINVAL)
	}
	if o, ok := ms.overlapping(a.vpns); ok {
		return fmt.Errorf("area %v overlaps %v: %w", a.vpns, o.vpns, linuxerr.EEXIST)
	}
	if err := a.Map(ms.pt, ms.alloc); err != nil {
		return err
	}
	if data != nil {
		if err := a.CopyDataAt(off, data); err != nil {
			a.Unmap(ms.pt)
			return err
		}
	}
	ms.areas = append(ms.areas, a)
	ms.index.ReplaceOrInsert(a)
	return nil
}

// InsertFramedArea maps a new Framed area covering [start, end).
func (ms *MemorySet) InsertFramedArea(start, end hostarch.VirtAddr, perm MapPermission) error {
	return ms.Push(NewArea(start, end, Framed, perm), nil)
}

// remove drops a from the address space without unmapping it.
func (ms *MemorySet) remove(a *Area) {
	for i, o := range ms.areas {
		if o == a {
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			break
		}
	}
	ms.index.Delete(a)
}

// MapTrampoline maps the trampoline page to the physical page at
// strampoline. The mapping is not part of any area.
func (ms *MemorySet) MapTrampoline(strampoline hostarch.PhysAddr) error {
	if err := ms.pt.Map(TrampolineAddr.Floor(), strampoline.Floor(), pagetables.Readable|pagetables.Executable); err != nil {
		return fmt.Errorf("mapping trampoline: %w", err)
	}
	ms.trampoline = true
	return nil
}

// Activate loads the address space into mmu and flushes stale translations.
//
// Precondition: nothing is executing under the previous address space.
func (ms *MemorySet) Activate(mmu platform.MMU) {
	mmu.WriteSATP(uint64(ms.Token()))
	mmu.FlushTLB()
}

// Release unmaps every area, returns all frames and frees the page table.
// The MemorySet must not be used afterwards.
func (ms *MemorySet) Release() {
	log.Debugf("Releasing address space %v", ms.pt.Token())
	for _, a := range ms.areas {
		a.releaseFrames()
	}
	ms.areas = nil
	ms.index.Clear(false)
	ms.pt.Release()
}

// FramesOwned returns the number of frames held by areas.
func (ms *MemorySet) FramesOwned() int {
	n := 0
	for _, a := range ms.areas {
		n += a.NumFrames()
	}
	return n
}
