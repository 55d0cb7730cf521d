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

// Package pgalloc contains the physical frame allocator and the simulated
// physical memory it hands out.
package pgalloc

import (
	"fmt"
	"sync/atomic"

	"github.com/google/btree"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/sync"
)

var (
	framesAllocated = metric.MustCreateNewUint64Metric("/pgalloc/frames_allocated", "Number of physical frames handed out.")
	framesReleased  = metric.MustCreateNewUint64Metric("/pgalloc/frames_released", "Number of physical frames returned to the allocator.")
	allocFailures   = metric.MustCreateNewUint64Metric("/pgalloc/alloc_failures", "Number of allocations that failed because memory was exhausted.")
)

func init() {
	metric.MustRegisterCustomUint64Metric("/pgalloc/frames_in_use", metric.Gauge, "Number of physical frames currently allocated across all allocators.", func(...string) uint64 {
		return framesAllocated.Value() - framesReleased.Value()
	})
}

// Allocator hands out physical frames in [start, end).
//
// Frames are taken from a bump pointer until it reaches end; released frames
// are kept in an ordered set and reused lowest-first.
type Allocator struct {
	mem   *Memory
	start hostarch.PhysPageNum
	end   hostarch.PhysPageNum

	mu sync.Mutex

	// current is the next never-allocated frame. Protected by mu.
	current hostarch.PhysPageNum

	// recycled holds released frames below current. Protected by mu.
	recycled *btree.BTreeG[hostarch.PhysPageNum]

	// inUse is the number of live frames. Protected by mu.
	inUse int
}

// NewAllocator returns an allocator over the frames [start, end) of mem.
func NewAllocator(mem *Memory, start, end hostarch.PhysPageNum) *Allocator {
	if end > mem.Limit() {
		panic(fmt.Sprintf("allocator end %v beyond end of memory %v", end, mem.Limit()))
	}
	if start > end {
		panic(fmt.Sprintf("allocator range [%v, %v) is inverted", start, end))
	}
	log.Debugf("Frame allocator covers [%#x, %#x)", uint64(start.Addr()), uint64(end.Addr()))
	return &Allocator{
		mem:     mem,
		start:   start,
		end:     end,
		current: start,
		recycled: btree.NewG(8, func(a, b hostarch.PhysPageNum) bool {
			return a < b
		}),
	}
}

// Memory returns the physical memory backing the allocator.
func (a *Allocator) Memory() *Memory {
	return a.mem
}

// Allocate returns a zero-filled frame. It returns ENOMEM if the pool is
// exhausted.
func (a *Allocator) Allocate() (*Frame, error) {
	a.mu.Lock()
	ppn, ok := a.recycled.DeleteMin()
	if !ok {
		if a.current == a.end {
			a.mu.Unlock()
			allocFailures.Increment()
			return nil, linuxerr.ENOMEM
		}
		ppn = a.current
		a.current++
	}
	a.inUse++
	a.mu.Unlock()

	clear(a.mem.Page(ppn))
	framesAllocated.Increment()
	return &Frame{ppn: ppn, a: a}, nil
}

// free returns ppn to the pool.
func (a *Allocator) free(ppn hostarch.PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ppn < a.start || ppn >= a.current || a.recycled.Has(ppn) {
		panic(fmt.Sprintf("frame %v released but not allocated", ppn))
	}
	a.recycled.ReplaceOrInsert(ppn)
	a.inUse--
	framesReleased.Increment()
}

// InUse returns the number of frames currently allocated.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Free returns the number of frames that can still be allocated.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.end-a.current) + a.recycled.Len()
}

// Frame is exclusive ownership of one physical page. The page returns to the
// allocator when Release is called; it is the owner's responsibility to call
// it exactly when the frame is no longer referenced.
type Frame struct {
	ppn      hostarch.PhysPageNum
	a        *Allocator
	released atomic.Bool
}

// PPN returns the frame's physical page number.
func (f *Frame) PPN() hostarch.PhysPageNum {
	return f.ppn
}

// Bytes returns the frame's contents.
func (f *Frame) Bytes() []byte {
	return f.a.mem.Page(f.ppn)
}

// Release returns the frame to its allocator. Subsequent calls are no-ops.
func (f *Frame) Release() {
	if f.released.CompareAndSwap(false, true) {
		f.a.free(f.ppn)
	}
}

// String implements fmt.Stringer.String.
func (f *Frame) String() string {
	return fmt.Sprintf("frame(%v)", f.ppn)
}
