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

package pgalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
)

func newTestAllocator(start, end hostarch.PhysPageNum) *Allocator {
	return NewAllocator(NewMemory(end), start, end)
}

func TestAllocateBumpThenRecycleLowestFirst(t *testing.T) {
	a := newTestAllocator(0x100, 0x110)
	var frames []*Frame
	for i := 0; i < 4; i++ {
		f, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		frames = append(frames, f)
	}
	var got []hostarch.PhysPageNum
	for _, f := range frames {
		got = append(got, f.PPN())
	}
	if diff := cmp.Diff([]hostarch.PhysPageNum{0x100, 0x101, 0x102, 0x103}, got); diff != "" {
		t.Errorf("bump order mismatch (-want +got):\n%s", diff)
	}

	frames[2].Release()
	frames[0].Release()
	if got, want := a.InUse(), 2; got != want {
		t.Errorf("InUse() = %d, want %d", got, want)
	}

	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if f.PPN() != 0x100 {
		t.Errorf("recycled frame = %v, want the lowest released frame 0x100", f.PPN())
	}
	f, err = a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if f.PPN() != 0x102 {
		t.Errorf("recycled frame = %v, want 0x102", f.PPN())
	}
	f, err = a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if f.PPN() != 0x104 {
		t.Errorf("fresh frame = %v, want 0x104", f.PPN())
	}
}

func TestAllocateZeroFills(t *testing.T) {
	a := newTestAllocator(0x10, 0x11)
	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(f.Bytes(), "dirty")
	f.Release()

	f, err = a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i, b := range f.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d of reused frame = %#x, want 0", i, b)
		}
	}
}

func TestExhaustion(t *testing.T) {
	a := newTestAllocator(0x10, 0x12)
	for i := 0; i < 2; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}
	before := allocFailures.Value()
	if _, err := a.Allocate(); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("Allocate on empty pool = %v, want ENOMEM", err)
	}
	if got := allocFailures.Value(); got != before+1 {
		t.Errorf("alloc_failures = %d, want %d", got, before+1)
	}
	if got := a.Free(); got != 0 {
		t.Errorf("Free() = %d, want 0", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := newTestAllocator(0x10, 0x20)
	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	released := framesReleased.Value()
	f.Release()
	f.Release()
	if got := a.InUse(); got != 0 {
		t.Errorf("InUse() = %d, want 0", got)
	}
	if got := framesReleased.Value(); got != released+1 {
		t.Errorf("frames_released advanced by %d, want 1", got-released)
	}
}

func TestFreeUnallocatedPanics(t *testing.T) {
	a := newTestAllocator(0x10, 0x20)
	defer func() {
		if recover() == nil {
			t.Errorf("releasing a never-allocated frame did not panic")
		}
	}()
	a.free(0x15)
}

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(4)
	if got := len(m.Page(3)); got != hostarch.PageSize {
		t.Errorf("len(Page(3)) = %d, want %d", got, hostarch.PageSize)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Page past the end of memory did not panic")
		}
	}()
	m.Page(4)
}
