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

// Package hostarch describes the SV39 address layout: page sizes, virtual
// and physical addresses, and page numbers.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the page size.
	PageSize = 1 << PageShift

	// VAWidth is the number of significant bits in an SV39 virtual address.
	VAWidth = 39

	// PAWidth is the number of significant bits in a physical address.
	PAWidth = 56

	// VPNWidth is the number of bits in a virtual page number.
	VPNWidth = VAWidth - PageShift

	// PPNWidth is the number of bits in a physical page number.
	PPNWidth = PAWidth - PageShift

	// LevelBits is the number of virtual page number bits consumed by each
	// level of the page table walk.
	LevelBits = 9

	// Levels is the depth of the page table.
	Levels = 3

	// EntriesPerTable is the number of entries in one page table page.
	EntriesPerTable = 1 << LevelBits

	// PageOffsetMask masks the offset of an address within its page.
	PageOffsetMask = PageSize - 1

	vaMask  = (uint64(1) << VAWidth) - 1
	paMask  = (uint64(1) << PAWidth) - 1
	vpnMask = (uint64(1) << VPNWidth) - 1
	ppnMask = (uint64(1) << PPNWidth) - 1
)
