// Copyright 2018 The gVisor Authors.
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

// Package pagetables provides a generic implementation of SV39 page tables.
//
// Page table nodes live in simulated physical memory and are read and written
// as little-endian 64-bit entries, so a table can be walked either by its
// owner or, read-only, through a View built from its token.
package pagetables

import (
	"fmt"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/pgalloc"
)

var (
	// ErrAlreadyMapped is returned by Map when the leaf entry is already
	// valid. Existing mappings are never overwritten.
	ErrAlreadyMapped = fmt.Errorf("page already mapped: %w", linuxerr.EEXIST)

	// ErrNotMapped is returned by Unmap when no valid leaf exists.
	ErrNotMapped = fmt.Errorf("page not mapped: %w", linuxerr.EINVAL)
)

// Allocator is used to allocate page table nodes.
type Allocator interface {
	// Allocate returns a zeroed frame.
	Allocate() (*pgalloc.Frame, error)

	// Memory returns the physical memory frames live in.
	Memory() *pgalloc.Memory
}

// PageTables is a page table hierarchy. It owns the frames of its root and
// every intermediate node, but not the frames leaf entries point to.
type PageTables struct {
	// allocator is used to allocate nodes.
	allocator Allocator

	// root is the root node.
	root *pgalloc.Frame

	// nodes are all frames owned by this table, root first.
	nodes []*pgalloc.Frame
}

// New returns new PageTables with a fresh root node.
//
// Running out of memory for the root is fatal and panics.
func New(a Allocator) *PageTables {
	p := &PageTables{allocator: a}
	p.root = p.newNode()
	return p
}

// newNode allocates a node frame. There is no way to recover from failing to
// extend the tree, so exhaustion panics.
func (p *PageTables) newNode() *pgalloc.Frame {
	f, err := p.allocator.Allocate()
	if err != nil {
		panic(fmt.Sprintf("out of memory allocating page table node: %v", err))
	}
	p.nodes = append(p.nodes, f)
	return f
}

func (p *PageTables) walker() walker {
	return walker{mem: p.allocator.Memory(), root: p.root.PPN()}
}

// Map installs a leaf entry mapping vpn to ppn with flags. The Valid bit is
// always added. Intermediate nodes are created as needed.
//
// Map returns ErrAlreadyMapped, and changes nothing, if vpn already has a
// valid leaf.
func (p *PageTables) Map(vpn hostarch.VirtPageNum, ppn hostarch.PhysPageNum, flags PTEFlags) error {
	e, _ := p.walker().leaf(vpn, func() hostarch.PhysPageNum {
		return p.newNode().PPN()
	})
	if e.load().Valid() {
		return fmt.Errorf("mapping %v to %v: %w", vpn, ppn, ErrAlreadyMapped)
	}
	e.store(NewPTE(ppn, flags|Valid))
	if log.IsLogging(log.Debug) {
		log.Debugf("Map %v -> %v %s", vpn, ppn, flags|Valid)
	}
	return nil
}

// Unmap clears the leaf entry for vpn. It returns ErrNotMapped if there is
// no valid leaf. Unmap never allocates.
func (p *PageTables) Unmap(vpn hostarch.VirtPageNum) error {
	e, ok := p.walker().leaf(vpn, nil)
	if !ok || !e.load().Valid() {
		return fmt.Errorf("unmapping %v: %w", vpn, ErrNotMapped)
	}
	e.store(0)
	return nil
}

// Translate returns the leaf entry for vpn if it is valid.
func (p *PageTables) Translate(vpn hostarch.VirtPageNum) (PTE, bool) {
	return p.walker().translate(vpn)
}

// TranslateAddr returns the physical address for va if its page is mapped.
func (p *PageTables) TranslateAddr(va hostarch.VirtAddr) (hostarch.PhysAddr, bool) {
	return p.walker().translateAddr(va)
}

// Token returns the translation-base register value for this table.
func (p *PageTables) Token() Token {
	return MakeToken(p.root.PPN())
}

// RootPPN returns the root node's physical page number.
func (p *PageTables) RootPPN() hostarch.PhysPageNum {
	return p.root.PPN()
}

// NumNodes returns the number of node frames owned, including the root.
func (p *PageTables) NumNodes() int {
	return len(p.nodes)
}

// ForEach calls fn for every valid leaf in increasing vpn order. Iteration
// stops if fn returns false.
func (p *PageTables) ForEach(fn func(vpn hostarch.VirtPageNum, pte PTE) bool) {
	p.walker().forEach(fn)
}

// Release frees all node frames. The PageTables must not be used afterwards.
func (p *PageTables) Release() {
	for _, f := range p.nodes {
		f.Release()
	}
	p.nodes = nil
}
