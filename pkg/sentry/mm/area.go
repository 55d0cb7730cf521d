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
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
)

// MapType is how an Area's pages are backed.
type MapType int

const (
	// Identical maps every virtual page to the physical page with the same
	// number. It is used only for kernel memory.
	Identical MapType = iota

	// Framed backs every virtual page with its own allocated frame.
	Framed
)

// String implements fmt.Stringer.String.
func (t MapType) String() string {
	switch t {
	case Identical:
		return "identical"
	case Framed:
		return "framed"
	default:
		return fmt.Sprintf("MapType(%d)", int(t))
	}
}

// MapPermission is the set of permissions an Area is mapped with. The bit
// positions match the page table entry flags.
type MapPermission uint8

// Permissions.
const (
	PermR MapPermission = MapPermission(pagetables.Readable)
	PermW MapPermission = MapPermission(pagetables.Writable)
	PermX MapPermission = MapPermission(pagetables.Executable)
	PermU MapPermission = MapPermission(pagetables.User)

	permMask = PermR | PermW | PermX | PermU
)

// PermissionFromAccessType returns the permission granting at.
func PermissionFromAccessType(at hostarch.AccessType) MapPermission {
	var p MapPermission
	if at.Read {
		p |= PermR
	}
	if at.Write {
		p |= PermW
	}
	if at.Execute {
		p |= PermX
	}
	return p
}

// PTEFlags returns the page table flags for p, without Valid.
func (p MapPermission) PTEFlags() pagetables.PTEFlags {
	return pagetables.PTEFlags(p & permMask)
}

// AccessType returns the R/W/X part of p.
func (p MapPermission) AccessType() hostarch.AccessType {
	return p.PTEFlags().AccessType()
}

// String renders p as "rwxu" with '-' for missing permissions.
func (p MapPermission) String() string {
	b := []byte("----")
	if p&PermR != 0 {
		b[0] = 'r'
	}
	if p&PermW != 0 {
		b[1] = 'w'
	}
	if p&PermX != 0 {
		b[2] = 'x'
	}
	if p&PermU != 0 {
		b[3] = 'u'
	}
	return string(b)
}

// FrameAllocator provides frames for Framed areas.
type FrameAllocator interface {
	Allocate() (*pgalloc.Frame, error)
}

// Area is a contiguous range of virtual pages that share a MapType and a
// permission. A Framed Area owns the frame behind each of its mapped pages.
//
// Invariant: the keys of frames are a subset of vpns.
type Area struct {
	vpns hostarch.VPNRange
	typ  MapType
	perm MapPermission

	// frames holds the frames of mapped pages. nil for Identical areas.
	frames map[hostarch.VirtPageNum]*pgalloc.Frame

	// name is shown in Maps output, e.g. "[stack]".
	name string
}

// NewArea returns an Area covering [floor(start), ceil(end)). Nothing is
// mapped until Map or MapOne is called.
func NewArea(start, end hostarch.VirtAddr, typ MapType, perm MapPermission) *Area {
	return NewAreaRange(hostarch.RangeOf(start, end), typ, perm)
}

// NewAreaRange is NewArea for a page range.
func NewAreaRange(vpns hostarch.VPNRange, typ MapType, perm MapPermission) *Area {
	a := &Area{
		vpns: vpns,
		typ:  typ,
		perm: perm,
	}
	if typ == Framed {
		a.frames = make(map[hostarch.VirtPageNum]*pgalloc.Frame)
	}
	return a
}

// Named sets the name shown in Maps output and returns a.
func (a *Area) Named(name string) *Area {
	a.name = name
	return a
}

// Name returns the area's name.
func (a *Area) Name() string { return a.name }

// Range returns the area's page range.
func (a *Area) Range() hostarch.VPNRange { return a.vpns }

// Type returns the area's MapType.
func (a *Area) Type() MapType { return a.typ }

// Perm returns the area's permission.
func (a *Area) Perm() MapPermission { return a.perm }

// Owns returns true if the area holds a frame for vpn. Identical areas own
// no frames.
func (a *Area) Owns(vpn hostarch.VirtPageNum) bool {
	_, ok := a.frames[vpn]
	return ok
}

// NumFrames returns the number of frames the area holds.
func (a *Area) NumFrames() int {
	return len(a.frames)
}

// MapOne maps vpn into pt. A Framed area allocates a frame for the page and
// records it; an Identical area maps vpn to the physical page of the same
// number. A page that is already present is left alone.
//
// Precondition: vpn is in a.Range().
func (a *Area) MapOne(pt *pagetables.PageTables, fa FrameAllocator, vpn hostarch.VirtPageNum) error {
	if !a.vpns.Contains(vpn) {
		return fmt.Errorf("%v outside area %v: %w", vpn, a.vpns, linuxerr.EINVAL)
	}
	flags := a.perm.PTEFlags()
	switch a.typ {
	case Identical:
		ppn := hostarch.PhysPageNum(vpn)
		if pte, ok := pt.Translate(vpn); ok && pte.PPN() == ppn {
			return nil
		}
		return pt.Map(vpn, ppn, flags)
	case Framed:
		if a.Owns(vpn) {
			return nil
		}
		f, err := fa.Allocate()
		if err != nil {
			return err
		}
		if err := pt.Map(vpn, f.PPN(), flags); err != nil {
			f.Release()
			return err
		}
		a.frames[vpn] = f
		return nil
	default:
		panic(fmt.Sprintf("unknown map type %v", a.typ))
	}
}

// UnmapOne releases the frame behind vpn, if the area owns one, and then
// clears the page table leaf. It returns an error if the leaf was not valid.
func (a *Area) UnmapOne(pt *pagetables.PageTables, vpn hostarch.VirtPageNum) error {
	if f, ok := a.frames[vpn]; ok {
		f.Release()
		delete(a.frames, vpn)
	}
	return pt.Unmap(vpn)
}

// Map maps every page of the area. If a page cannot be mapped the pages
// mapped by this call are unmapped again and the error is returned.
func (a *Area) Map(pt *pagetables.PageTables, fa FrameAllocator) error {
	for vpn := a.vpns.Start; vpn < a.vpns.End; vpn++ {
		if err := a.MapOne(pt, fa, vpn); err != nil {
			for v := a.vpns.Start; v < vpn; v++ {
				a.UnmapOne(pt, v)
			}
			return err
		}
	}
	return nil
}

// Unmap unmaps every page of the area. Every page is processed even if some
// fail; the first failure is returned and nothing is rolled back.
func (a *Area) Unmap(pt *pagetables.PageTables) error {
	var firstErr error
	for vpn := a.vpns.Start; vpn < a.vpns.End; vpn++ {
		if err := a.UnmapOne(pt, vpn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CopyData copies data into the area's frames, page by page, starting at the
// area's first page.
func (a *Area) CopyData(data []byte) error {
	return a.CopyDataAt(0, data)
}

// CopyDataAt is CopyData starting off bytes into the area.
//
// Preconditions: a is Framed and every page touched by the copy is mapped.
func (a *Area) CopyDataAt(off uint64, data []byte) error {
	if a.typ != Framed {
		return fmt.Errorf("copy into %v area %v: %w", a.typ, a.vpns, linuxerr.EINVAL)
	}
	if off+uint64(len(data)) > a.vpns.Len()*hostarch.PageSize {
		return fmt.Errorf("copy of %d bytes at %#x overflows area %v: %w", len(data), off, a.vpns, linuxerr.EFAULT)
	}
	for len(data) > 0 {
		vpn := a.vpns.Start + hostarch.VirtPageNum(off>>hostarch.PageShift)
		f, ok := a.frames[vpn]
		if !ok {
			return fmt.Errorf("copy into unmapped %v: %w", vpn, linuxerr.EFAULT)
		}
		n := copy(f.Bytes()[off&hostarch.PageOffsetMask:], data)
		data = data[n:]
		off += uint64(n)
	}
	return nil
}

// releaseFrames drops every frame without touching the page table.
func (a *Area) releaseFrames() {
	for vpn, f := range a.frames {
		f.Release()
		delete(a.frames, vpn)
	}
}

// String implements fmt.Stringer.String.
func (a *Area) String() string {
	return fmt.Sprintf("%v %s %v", a.vpns, a.perm, a.typ)
}
