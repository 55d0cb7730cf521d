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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/pgalloc"
)

func pages(start, end hostarch.VirtPageNum) hostarch.VPNRange {
	return hostarch.VPNRange{Start: start, End: end}
}

func TestMMapEmptySpace(t *testing.T) {
	ms, alloc := newTestSet()
	r := hostarch.RangeOf(0x1000, 0x3000)
	if !ms.JudgeMapRight(r) {
		t.Fatalf("JudgeMapRight(%v) = false on an empty space", r)
	}
	if err := ms.MMap(r, PermR|PermW|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	want := []areaDesc{{pages(1, 3), Framed, PermR | PermW | PermU}}
	if diff := cmp.Diff(want, describe(ms)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
	for vpn := hostarch.VirtPageNum(1); vpn < 3; vpn++ {
		pte, ok := ms.Translate(vpn)
		if !ok || !pte.Readable() || !pte.Writable() || !pte.User() || pte.Executable() {
			t.Errorf("Translate(%v) = %v, %t, want rw- user", vpn, pte, ok)
		}
	}
	checkInvariants(t, ms, alloc)
}

func TestJudgeMapRight(t *testing.T) {
	ms, _ := newTestSet()
	if err := ms.MMap(pages(4, 8), PermR|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	a, _ := ms.FindArea(4)
	// Leave a hole inside the area's declared range.
	if err := a.UnmapOne(ms.PageTables(), 6); err != nil {
		t.Fatalf("UnmapOne: %v", err)
	}

	for _, tc := range []struct {
		r    hostarch.VPNRange
		want bool
	}{
		{pages(0, 4), true},   // free
		{pages(4, 6), true},   // already realized
		{pages(2, 6), true},   // free then realized
		{pages(6, 7), false},  // declared but not realized
		{pages(5, 9), false},  // crosses the hole
		{pages(8, 12), true},  // free after the area
		{pages(10, 10), true}, // empty
	} {
		if got := ms.JudgeMapRight(tc.r); got != tc.want {
			t.Errorf("JudgeMapRight(%v) = %t, want %t", tc.r, got, tc.want)
		}
	}
}

func TestMMapOverExistingPages(t *testing.T) {
	ms, alloc := newTestSet()
	if err := ms.MMap(pages(4, 6), PermR|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	f, _ := ms.owner(4)
	frame := f.frames[4]

	// Pages 4 and 5 stay with their area; 2, 3, 6 and 7 get a new area each
	// side.
	r := pages(2, 8)
	if !ms.JudgeMapRight(r) {
		t.Fatalf("JudgeMapRight(%v) = false", r)
	}
	if err := ms.MMap(r, PermR|PermW|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	want := []areaDesc{
		{pages(4, 6), Framed, PermR | PermU},
		{pages(2, 4), Framed, PermR | PermW | PermU},
		{pages(6, 8), Framed, PermR | PermW | PermU},
	}
	if diff := cmp.Diff(want, describe(ms)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
	if f.frames[4] != frame {
		t.Errorf("existing frame replaced")
	}
	checkInvariants(t, ms, alloc)
}

func TestMMapRealizesHole(t *testing.T) {
	ms, alloc := newTestSet()
	if err := ms.MMap(pages(4, 8), PermR|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	a, _ := ms.FindArea(4)
	if err := a.UnmapOne(ms.PageTables(), 6); err != nil {
		t.Fatalf("UnmapOne: %v", err)
	}
	// MMap without the judge realizes the page through its area.
	if err := ms.MMap(pages(6, 7), PermR|PermW|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if !a.Owns(6) || len(ms.Areas()) != 1 {
		t.Errorf("hole not realized by its area: %v", describe(ms))
	}
	pte, _ := ms.Translate(6)
	if pte.Writable() {
		t.Errorf("realized page took the new permission: %v", pte)
	}
	checkInvariants(t, ms, alloc)
}

func TestMMapRollsBackOnExhaustion(t *testing.T) {
	mem := pgalloc.NewMemory(0x80010)
	alloc := pgalloc.NewAllocator(mem, 0x80000, 0x80008)
	ms := NewBare(alloc)
	if err := ms.MMap(pages(4, 6), PermR|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	a, _ := ms.FindArea(4)
	if err := a.UnmapOne(ms.PageTables(), 5); err != nil {
		t.Fatalf("UnmapOne: %v", err)
	}
	before := leaves(ms)
	inUse := alloc.InUse()

	// Page 5 is realized and [2, 4) is pushed before [6, 12) runs out of
	// frames.
	if err := ms.MMap(pages(2, 12), PermR|PermW|PermU); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Fatalf("MMap = %v, want ENOMEM", err)
	}
	want := []areaDesc{{pages(4, 6), Framed, PermR | PermU}}
	if diff := cmp.Diff(want, describe(ms)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, leaves(ms)); diff != "" {
		t.Errorf("leaves mismatch (-want +got):\n%s", diff)
	}
	if a.Owns(5) {
		t.Errorf("page 5 still realized after the failed mmap")
	}
	if got := alloc.InUse(); got != inUse {
		t.Errorf("frames in use = %d, want %d", got, inUse)
	}
	checkInvariants(t, ms, alloc)
}

func TestMUnmap(t *testing.T) {
	ms, alloc := newTestSet()
	if err := ms.MMap(pages(1, 5), PermR|PermW|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}

	if ms.JudgeUnmapRight(pages(0, 2)) {
		t.Errorf("JudgeUnmapRight allowed an unmapped page")
	}
	if !ms.JudgeUnmapRight(pages(2, 4)) {
		t.Fatalf("JudgeUnmapRight(2, 4) = false")
	}
	if err := ms.MUnmap(pages(2, 4)); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}
	// The area survives with pages 1 and 4.
	a, ok := ms.FindArea(1)
	if !ok || a.NumFrames() != 2 || !a.Owns(1) || !a.Owns(4) {
		t.Fatalf("area after partial unmap = %v", describe(ms))
	}
	for vpn := hostarch.VirtPageNum(2); vpn < 4; vpn++ {
		if _, ok := ms.Translate(vpn); ok {
			t.Errorf("%v still mapped", vpn)
		}
	}
	if ms.JudgeUnmapRight(pages(2, 3)) {
		t.Errorf("double unmap allowed")
	}

	if err := ms.MUnmap(pages(1, 2)); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}
	if err := ms.MUnmap(pages(4, 5)); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}
	if len(ms.Areas()) != 0 {
		t.Errorf("empty area not removed: %v", describe(ms))
	}
	checkInvariants(t, ms, alloc)
}

func TestMUnmapWithoutJudge(t *testing.T) {
	ms, _ := newTestSet()
	if err := ms.MUnmap(pages(1, 2)); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("MUnmap of unmapped page = %v, want EINVAL", err)
	}
}

func TestMUnmapAcrossAreas(t *testing.T) {
	ms, alloc := newTestSet()
	if err := ms.MMap(pages(1, 3), PermR|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if err := ms.MMap(pages(3, 5), PermR|PermW|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if err := ms.MUnmap(pages(2, 4)); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}
	want := []areaDesc{
		{pages(1, 3), Framed, PermR | PermU},
		{pages(3, 5), Framed, PermR | PermW | PermU},
	}
	if diff := cmp.Diff(want, describe(ms)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
	if err := ms.MUnmap(pages(1, 2)); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}
	if err := ms.MUnmap(pages(4, 5)); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}
	if len(ms.Areas()) != 0 {
		t.Errorf("areas left: %v", describe(ms))
	}
	checkInvariants(t, ms, alloc)
}

func TestMUnmapKeepsIdenticalAreas(t *testing.T) {
	ms, _ := newTestSet()
	if err := ms.Push(NewArea(0x80200000, 0x80201000, Identical, PermR), nil); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if ms.JudgeUnmapRight(pages(0x80200, 0x80201)) {
		t.Errorf("JudgeUnmapRight allowed munmap of an identical page")
	}
	if len(ms.Areas()) != 1 {
		t.Errorf("identical area removed")
	}
}

func TestMMapMUnmapRoundTrip(t *testing.T) {
	ms, alloc := newTestSet()
	if err := ms.MMap(pages(0x10, 0x12), PermR|PermX|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	// Create the page table nodes up front so the comparison sees content,
	// not node count.
	if err := ms.MMap(pages(0x40, 0x41), PermR|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	beforeAreas := describe(ms)
	beforeLeaves := leaves(ms)
	beforeFrames := ms.FramesOwned()

	r := pages(0x20, 0x24)
	if !ms.JudgeMapRight(r) {
		t.Fatalf("JudgeMapRight(%v) = false", r)
	}
	if err := ms.MMap(r, PermR|PermW|PermU); err != nil {
		t.Fatalf("MMap: %v", err)
	}
	if !ms.JudgeUnmapRight(r) {
		t.Fatalf("JudgeUnmapRight(%v) = false", r)
	}
	if err := ms.MUnmap(r); err != nil {
		t.Fatalf("MUnmap: %v", err)
	}

	if diff := cmp.Diff(beforeAreas, describe(ms)); diff != "" {
		t.Errorf("areas changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(beforeLeaves, leaves(ms)); diff != "" {
		t.Errorf("page table changed (-before +after):\n%s", diff)
	}
	if ms.FramesOwned() != beforeFrames {
		t.Errorf("frames owned = %d, want %d", ms.FramesOwned(), beforeFrames)
	}
	checkInvariants(t, ms, alloc)
}

func TestIncludeFramedArea(t *testing.T) {
	ms, _ := newTestSet()
	if err := ms.InsertFramedArea(0x4000, 0x6000, PermR|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	for _, tc := range []struct {
		r    hostarch.VPNRange
		want bool
	}{
		{pages(0, 4), false},
		{pages(3, 5), true},
		{pages(5, 9), true},
		{pages(6, 9), false},
		{pages(0, 100), true},
		{pages(5, 5), false},
	} {
		if got := ms.IncludeFramedArea(tc.r); got != tc.want {
			t.Errorf("IncludeFramedArea(%v) = %t, want %t", tc.r, got, tc.want)
		}
	}
}

func TestCancelFramedArea(t *testing.T) {
	ms, alloc := newTestSet()
	if err := ms.InsertFramedArea(0x4000, 0x6000, PermR|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	if err := ms.InsertFramedArea(0x8000, 0x9000, PermR|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	if err := ms.CancelFramedArea(pages(4, 6), CancelOpts{}); err != nil {
		t.Fatalf("CancelFramedArea: %v", err)
	}
	want := []areaDesc{{pages(8, 9), Framed, PermR | PermU}}
	if diff := cmp.Diff(want, describe(ms)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
	if err := ms.CancelFramedArea(pages(0, 2), CancelOpts{}); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("CancelFramedArea of nothing = %v, want EINVAL", err)
	}
	checkInvariants(t, ms, alloc)
}

func TestCancelFramedAreaFirstMatch(t *testing.T) {
	ms, alloc := newTestSet()
	// Inserted out of address order: the first match is the later area.
	if err := ms.InsertFramedArea(0x6000, 0x8000, PermR|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	if err := ms.InsertFramedArea(0x4000, 0x6000, PermR|PermW|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}

	r := pages(5, 7)
	if err := ms.CancelFramedArea(r, CancelOpts{SingleRegionOnly: true}); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("guarded CancelFramedArea across areas = %v, want EINVAL", err)
	}
	if len(ms.Areas()) != 2 {
		t.Fatalf("guarded cancel changed state: %v", describe(ms))
	}

	if err := ms.CancelFramedArea(r, CancelOpts{}); err != nil {
		t.Fatalf("CancelFramedArea: %v", err)
	}
	want := []areaDesc{{pages(4, 6), Framed, PermR | PermW | PermU}}
	if diff := cmp.Diff(want, describe(ms)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
	// The other area is untouched, including page 5 inside the request.
	for vpn := hostarch.VirtPageNum(4); vpn < 6; vpn++ {
		if _, ok := ms.Translate(vpn); !ok {
			t.Errorf("%v of the surviving area unmapped", vpn)
		}
	}
	for vpn := hostarch.VirtPageNum(6); vpn < 8; vpn++ {
		if _, ok := ms.Translate(vpn); ok {
			t.Errorf("%v of the cancelled area still mapped", vpn)
		}
	}
	checkInvariants(t, ms, alloc)
}
