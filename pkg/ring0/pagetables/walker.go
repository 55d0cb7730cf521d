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
	"encoding/binary"

	"gvisor.dev/sv39/pkg/hostarch"
)

const entrySize = 8

// PhysMem is the physical memory page table nodes are read from.
type PhysMem interface {
	Page(ppn hostarch.PhysPageNum) []byte
}

// entry is the location of one page table entry.
type entry struct {
	node []byte
	off  int
}

func (e entry) load() PTE {
	return PTE(binary.LittleEndian.Uint64(e.node[e.off:]))
}

func (e entry) store(pte PTE) {
	binary.LittleEndian.PutUint64(e.node[e.off:], uint64(pte))
}

// walker walks the tree rooted at root.
type walker struct {
	mem  PhysMem
	root hostarch.PhysPageNum
}

// leaf returns the leaf entry slot for vpn. When an intermediate entry is not
// valid, alloc is called to provide a new node; if alloc is nil the walk
// stops and ok is false.
func (w walker) leaf(vpn hostarch.VirtPageNum, alloc func() hostarch.PhysPageNum) (e entry, ok bool) {
	idx := vpn.Indexes()
	ppn := w.root
	for level := 0; ; level++ {
		e = entry{node: w.mem.Page(ppn), off: idx[level] * entrySize}
		if level == hostarch.Levels-1 {
			return e, true
		}
		pte := e.load()
		if !pte.Valid() {
			if alloc == nil {
				return entry{}, false
			}
			pte = NewPTE(alloc(), Valid)
			e.store(pte)
		}
		ppn = pte.PPN()
	}
}

func (w walker) translate(vpn hostarch.VirtPageNum) (PTE, bool) {
	e, ok := w.leaf(vpn, nil)
	if !ok {
		return 0, false
	}
	pte := e.load()
	if !pte.Valid() {
		return 0, false
	}
	return pte, true
}

func (w walker) translateAddr(va hostarch.VirtAddr) (hostarch.PhysAddr, bool) {
	pte, ok := w.translate(va.Floor())
	if !ok {
		return 0, false
	}
	return hostarch.PhysAddr(uint64(pte.PPN().Addr()) + va.PageOffset()), true
}

func (w walker) forEach(fn func(vpn hostarch.VirtPageNum, pte PTE) bool) {
	w.visit(w.root, 0, 0, fn)
}

// visit walks the node at ppn, which sits at the given level and covers the
// vpns beginning with prefix. It returns false once fn has asked to stop.
func (w walker) visit(ppn hostarch.PhysPageNum, level int, prefix uint64, fn func(hostarch.VirtPageNum, PTE) bool) bool {
	node := w.mem.Page(ppn)
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		e := entry{node: node, off: i * entrySize}
		pte := e.load()
		if !pte.Valid() {
			continue
		}
		vpn := prefix<<hostarch.LevelBits | uint64(i)
		if level == hostarch.Levels-1 {
			if !fn(hostarch.VirtPageNum(vpn), pte) {
				return false
			}
			continue
		}
		if !w.visit(pte.PPN(), level+1, vpn, fn) {
			return false
		}
	}
	return true
}
