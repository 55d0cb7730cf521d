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
	"fmt"

	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/sync"
)

// Memory is simulated physical memory. Pages are created on first touch and
// are zero-filled.
//
// Memory is safe for concurrent use, but the returned page slices are not
// synchronized.
type Memory struct {
	// limit is the first page number past the end of memory. Immutable.
	limit hostarch.PhysPageNum

	mu    sync.Mutex
	pages map[hostarch.PhysPageNum]*[hostarch.PageSize]byte
}

// NewMemory returns physical memory covering page numbers [0, limit).
func NewMemory(limit hostarch.PhysPageNum) *Memory {
	return &Memory{
		limit: limit,
		pages: make(map[hostarch.PhysPageNum]*[hostarch.PageSize]byte),
	}
}

// Limit returns the first page number past the end of memory.
func (m *Memory) Limit() hostarch.PhysPageNum {
	return m.limit
}

// Page returns the bytes of physical page ppn.
//
// Precondition: ppn < m.Limit().
func (m *Memory) Page(ppn hostarch.PhysPageNum) []byte {
	if ppn >= m.limit {
		panic(fmt.Sprintf("physical page %v beyond end of memory %v", ppn, m.limit))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[ppn]
	if !ok {
		p = new([hostarch.PageSize]byte)
		m.pages[ppn] = p
	}
	return p[:]
}

// Touched returns the number of pages that have been materialized.
func (m *Memory) Touched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}
