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

package hostarch

import (
	"fmt"
)

// VirtAddr is a virtual byte address. Only the low VAWidth bits are
// significant.
type VirtAddr uint64

// PhysAddr is a physical byte address.
type PhysAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VA truncates v to an SV39 virtual address. Sign-extended kernel addresses
// such as the trampoline fold onto the top of the 39-bit space.
func VA(v uint64) VirtAddr {
	return VirtAddr(v & vaMask)
}

// PA truncates v to a physical address.
func PA(v uint64) PhysAddr {
	return PhysAddr(v & paMask)
}

// Floor returns the page containing v.
func (v VirtAddr) Floor() VirtPageNum {
	return VirtPageNum((uint64(v) & vaMask) >> PageShift)
}

// Ceil returns the first page at or above v.
func (v VirtAddr) Ceil() VirtPageNum {
	a := uint64(v) & vaMask
	return VirtPageNum((a + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of v within its page.
func (v VirtAddr) PageOffset() uint64 {
	return uint64(v) & PageOffsetMask
}

// Aligned returns true if v is page-aligned.
func (v VirtAddr) Aligned() bool {
	return v.PageOffset() == 0
}

// String implements fmt.Stringer.String.
func (v VirtAddr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// Floor returns the page containing p.
func (p PhysAddr) Floor() PhysPageNum {
	return PhysPageNum((uint64(p) & paMask) >> PageShift)
}

// Ceil returns the first page at or above p.
func (p PhysAddr) Ceil() PhysPageNum {
	a := uint64(p) & paMask
	return PhysPageNum((a + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of p within its page.
func (p PhysAddr) PageOffset() uint64 {
	return uint64(p) & PageOffsetMask
}

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// Addr returns the first byte address of the page.
func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr((uint64(vpn) & vpnMask) << PageShift)
}

// Indexes returns the three 9-bit page table indices of vpn, root level
// first.
func (vpn VirtPageNum) Indexes() [Levels]int {
	var idx [Levels]int
	v := uint64(vpn)
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = int(v & (EntriesPerTable - 1))
		v >>= LevelBits
	}
	return idx
}

// String implements fmt.Stringer.String.
func (vpn VirtPageNum) String() string {
	return fmt.Sprintf("vpn:%#x", uint64(vpn))
}

// Addr returns the first byte address of the page.
func (ppn PhysPageNum) Addr() PhysAddr {
	return PhysAddr((uint64(ppn) & ppnMask) << PageShift)
}

// String implements fmt.Stringer.String.
func (ppn PhysPageNum) String() string {
	return fmt.Sprintf("ppn:%#x", uint64(ppn))
}

// VPNRange is a half-open range of virtual page numbers [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// RangeOf returns the page range covering the byte range [start, end): the
// start is rounded down and the end rounded up.
func RangeOf(start, end VirtAddr) VPNRange {
	return VPNRange{Start: start.Floor(), End: end.Ceil()}
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Empty returns true if r contains no pages.
func (r VPNRange) Empty() bool {
	return r.End <= r.Start
}

// Contains returns true if vpn is in r.
func (r VPNRange) Contains(vpn VirtPageNum) bool {
	return r.Start <= vpn && vpn < r.End
}

// Overlaps returns true if r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// StartAddr returns the first byte address of r.
func (r VPNRange) StartAddr() VirtAddr {
	return r.Start.Addr()
}

// EndAddr returns the byte address one past the last page of r.
func (r VPNRange) EndAddr() VirtAddr {
	return r.End.Addr()
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.StartAddr()), uint64(r.EndAddr()))
}
