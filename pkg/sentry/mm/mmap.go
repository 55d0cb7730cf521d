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
	"fmt"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
)

var (
	mmapPages    = metric.MustCreateNewUint64Metric("/mm/mmap_pages", "Number of pages mapped by mmap.")
	munmapPages  = metric.MustCreateNewUint64Metric("/mm/munmap_pages", "Number of pages unmapped by munmap.")
	areasCreated = metric.MustCreateNewUint64Metric("/mm/mmap_areas_created", "Number of areas created by mmap.")
)

// owner returns the area holding a frame for vpn.
func (ms *MemorySet) owner(vpn hostarch.VirtPageNum) (*Area, bool) {
	a, ok := ms.FindArea(vpn)
	if !ok || !a.Owns(vpn) {
		return nil, false
	}
	return a, true
}

// JudgeMapRight returns true if every page of r is either outside all areas
// or already backed by a frame of the area containing it. A page inside an
// area that has not realized it fails the check.
func (ms *MemorySet) JudgeMapRight(r hostarch.VPNRange) bool {
	for vpn := r.Start; vpn < r.End; vpn++ {
		a, ok := ms.FindArea(vpn)
		if ok && !a.Owns(vpn) {
			log.Debugf("Map right denied: %v is in %v but not realized", vpn, a)
			return false
		}
	}
	return true
}

// MMap maps r with perm. Pages inside an existing area are realized by that
// area. The remaining pages get new Framed areas, one per contiguous run.
// If any page cannot be mapped, the pages and areas this call added are
// removed again and the address space is left as it was.
//
// Preconditions: ms.JudgeMapRight(r).
func (ms *MemorySet) MMap(r hostarch.VPNRange, perm MapPermission) error {
	var (
		runs     []hostarch.VPNRange
		realized []realizedPage
		pushed   []*Area
	)
	rollback := func() {
		for _, a := range pushed {
			a.Unmap(ms.pt)
			ms.remove(a)
		}
		for _, p := range realized {
			p.area.UnmapOne(ms.pt, p.vpn)
		}
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		if a, ok := ms.FindArea(vpn); ok {
			_, present := ms.pt.Translate(vpn)
			if err := a.MapOne(ms.pt, ms.alloc, vpn); err != nil {
				rollback()
				return err
			}
			if !present {
				realized = append(realized, realizedPage{a, vpn})
			}
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].End == vpn {
			runs[n-1].End++
		} else {
			runs = append(runs, hostarch.VPNRange{Start: vpn, End: vpn + 1})
		}
	}
	if len(runs) > 1 {
		log.Debugf("mmap of %v split into %d areas around existing mappings", r, len(runs))
	}
	for _, run := range runs {
		a := NewAreaRange(run, Framed, perm)
		if err := ms.Push(a, nil); err != nil {
			log.Debugf("mmap of %v failed at %v, rolling back %d areas and %d pages: %v", r, run, len(pushed), len(realized), err)
			rollback()
			return err
		}
		pushed = append(pushed, a)
	}
	for _, run := range runs {
		areasCreated.Increment()
		mmapPages.IncrementBy(run.Len())
	}
	return nil
}

// realizedPage is a page MMap mapped inside an area that already existed.
type realizedPage struct {
	area *Area
	vpn  hostarch.VirtPageNum
}

// JudgeUnmapRight returns true if every page of r is backed by a frame of
// some area.
func (ms *MemorySet) JudgeUnmapRight(r hostarch.VPNRange) bool {
	for vpn := r.Start; vpn < r.End; vpn++ {
		if _, ok := ms.owner(vpn); !ok {
			log.Debugf("Unmap right denied: %v is not mapped", vpn)
			return false
		}
	}
	return true
}

// MUnmap unmaps every page of r through the area that owns it, then removes
// each Framed area the call left without frames.
//
// Preconditions: ms.JudgeUnmapRight(r).
func (ms *MemorySet) MUnmap(r hostarch.VPNRange) error {
	var (
		touched  []*Area
		firstErr error
	)
	for vpn := r.Start; vpn < r.End; vpn++ {
		a, ok := ms.owner(vpn)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("munmap of unowned %v: %w", vpn, linuxerr.EINVAL)
			}
			continue
		}
		if err := a.UnmapOne(ms.pt, vpn); err != nil && firstErr == nil {
			firstErr = err
		}
		munmapPages.Increment()
		if len(touched) == 0 || touched[len(touched)-1] != a {
			touched = append(touched, a)
		}
	}
	for _, a := range touched {
		if a.typ == Framed && a.NumFrames() == 0 {
			ms.remove(a)
		}
	}
	return firstErr
}

// IncludeFramedArea returns true if any area intersects r.
func (ms *MemorySet) IncludeFramedArea(r hostarch.VPNRange) bool {
	_, ok := ms.overlapping(r)
	return ok
}

// CancelOpts controls CancelFramedArea.
type CancelOpts struct {
	// SingleRegionOnly rejects ranges intersecting more than one area
	// before anything is changed.
	SingleRegionOnly bool
}

// CancelFramedArea unmaps r through the first area, in insertion order, that
// intersects it, and removes that area. Pages of r outside the area are left
// alone; pages of the area outside r are unmapped as well so that no frame
// outlives its mapping.
func (ms *MemorySet) CancelFramedArea(r hostarch.VPNRange, opts CancelOpts) error {
	var (
		first *Area
		n     int
	)
	for _, a := range ms.areas {
		if a.vpns.Overlaps(r) {
			if first == nil {
				first = a
			}
			n++
		}
	}
	if first == nil {
		return fmt.Errorf("no area intersects %v: %w", r, linuxerr.EINVAL)
	}
	if n > 1 {
		if opts.SingleRegionOnly {
			return fmt.Errorf("%v intersects %d areas: %w", r, n, linuxerr.EINVAL)
		}
		log.Warningf("Cancelling %v through %v; %d other areas also intersect it", r, first, n-1)
	}

	var firstErr error
	for vpn := r.Start; vpn < r.End; vpn++ {
		if !first.vpns.Contains(vpn) {
			continue
		}
		if err := first.UnmapOne(ms.pt, vpn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for vpn := range first.frames {
		if err := first.UnmapOne(ms.pt, vpn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ms.remove(first)
	return firstErr
}
