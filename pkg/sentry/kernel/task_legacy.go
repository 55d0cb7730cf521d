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

package kernel

import (
	"fmt"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/sentry/mm"
)

// The legacy path maps and unmaps whole areas: a map must not touch any
// existing area and an unmap cancels the first area it touches.

// MapLegacy maps [start, end) as a single new Framed area in t's address
// space. It returns EEXIST if the range intersects any area.
func (t *Task) MapLegacy(start, end hostarch.VirtAddr, perm mm.MapPermission) error {
	return t.WithMemorySet(func(ms *mm.MemorySet) error {
		r := hostarch.RangeOf(start, end)
		if ms.IncludeFramedArea(r) {
			return fmt.Errorf("legacy map of %v intersects an area: %w", r, linuxerr.EEXIST)
		}
		return ms.InsertFramedArea(start, end, perm)
	})
}

// UnmapLegacy cancels the first area of t's address space intersecting
// [start, end). It returns EINVAL if no area intersects the range.
func (t *Task) UnmapLegacy(start, end hostarch.VirtAddr) error {
	opts := mm.CancelOpts{SingleRegionOnly: t.k.singleRegionCancel}
	return t.WithMemorySet(func(ms *mm.MemorySet) error {
		r := hostarch.RangeOf(start, end)
		if !ms.IncludeFramedArea(r) {
			return fmt.Errorf("legacy unmap of %v: %w", r, linuxerr.EINVAL)
		}
		return ms.CancelFramedArea(r, opts)
	})
}
