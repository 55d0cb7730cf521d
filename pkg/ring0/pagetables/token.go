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

package pagetables

import (
	"fmt"

	"gvisor.dev/sv39/pkg/bits"
	"gvisor.dev/sv39/pkg/hostarch"
)

// Token is a satp register value: the paging mode in bits 60..63 and the
// root page number in bits 0..43.
type Token uint64

const (
	// ModeSV39 is the satp mode field for SV39 translation.
	ModeSV39 = 8

	modeShift   = 60
	modeWidth   = 4
	rootPPNBits = 44
)

// MakeToken returns the SV39 token for a table rooted at root.
func MakeToken(root hostarch.PhysPageNum) Token {
	v := bits.SetField(0, modeShift, modeWidth, ModeSV39)
	return Token(bits.SetField(v, 0, rootPPNBits, uint64(root)))
}

// RootPPN returns the root page number.
func (t Token) RootPPN() hostarch.PhysPageNum {
	return hostarch.PhysPageNum(bits.Field(uint64(t), 0, rootPPNBits))
}

// Mode returns the paging mode field.
func (t Token) Mode() uint64 {
	return bits.Field(uint64(t), modeShift, modeWidth)
}

// String implements fmt.Stringer.String.
func (t Token) String() string {
	return fmt.Sprintf("%#x", uint64(t))
}

// View is a read-only, non-owning view of a page table identified by its
// token. It holds no frames and must not outlive the table's owner.
type View struct {
	w walker
}

// NewView returns a view of the table identified by token.
func NewView(mem PhysMem, token Token) (View, error) {
	if token.Mode() != ModeSV39 {
		return View{}, fmt.Errorf("token %v has mode %d, want %d", token, token.Mode(), ModeSV39)
	}
	return View{w: walker{mem: mem, root: token.RootPPN()}}, nil
}

// Translate returns the leaf entry for vpn if it is valid.
func (v View) Translate(vpn hostarch.VirtPageNum) (PTE, bool) {
	return v.w.translate(vpn)
}

// TranslateAddr returns the physical address for va if its page is mapped.
func (v View) TranslateAddr(va hostarch.VirtAddr) (hostarch.PhysAddr, bool) {
	return v.w.translateAddr(va)
}

// Token returns the token the view was built from.
func (v View) Token() Token {
	return MakeToken(v.w.root)
}

// Translator translates virtual pages. It is implemented by both PageTables
// and View.
type Translator interface {
	Translate(vpn hostarch.VirtPageNum) (PTE, bool)
	TranslateAddr(va hostarch.VirtAddr) (hostarch.PhysAddr, bool)
}
