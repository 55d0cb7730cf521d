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
	"math"
	"testing"
)

func TestFloorCeil(t *testing.T) {
	for _, tc := range []struct {
		addr  VirtAddr
		floor VirtPageNum
		ceil  VirtPageNum
	}{
		{0, 0, 0},
		{1, 0, 1},
		{PageSize - 1, 0, 1},
		{PageSize, 1, 1},
		{0x10000, 0x10, 0x10},
		{0x13001, 0x13, 0x14},
	} {
		if got := tc.addr.Floor(); got != tc.floor {
			t.Errorf("%v.Floor() = %v, want %v", tc.addr, got, tc.floor)
		}
		if got := tc.addr.Ceil(); got != tc.ceil {
			t.Errorf("%v.Ceil() = %v, want %v", tc.addr, got, tc.ceil)
		}
	}
}

func TestTrampolineFolds(t *testing.T) {
	tramp := VA(math.MaxUint64 - PageSize + 1)
	if got, want := tramp.Floor(), VirtPageNum((1<<VPNWidth)-1); got != want {
		t.Errorf("trampoline page = %v, want %v", got, want)
	}
	if got, want := tramp.Floor().Addr(), tramp; got != want {
		t.Errorf("trampoline round trip = %v, want %v", got, want)
	}
}

func TestIndexes(t *testing.T) {
	vpn := VirtPageNum(0x1<<18 | 0x2<<9 | 0x3)
	if got, want := vpn.Indexes(), [Levels]int{1, 2, 3}; got != want {
		t.Errorf("Indexes() = %v, want %v", got, want)
	}
	top := VirtPageNum((1 << VPNWidth) - 1)
	if got, want := top.Indexes(), [Levels]int{511, 511, 511}; got != want {
		t.Errorf("Indexes() = %v, want %v", got, want)
	}
}

func TestVPNRange(t *testing.T) {
	r := RangeOf(0x1001, 0x3001)
	if r.Start != 1 || r.End != 4 {
		t.Fatalf("RangeOf = %v, want [1, 4)", r)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	if !r.Contains(3) || r.Contains(4) {
		t.Errorf("Contains is not half-open: %v", r)
	}
	if !r.Overlaps(VPNRange{3, 10}) || r.Overlaps(VPNRange{4, 10}) {
		t.Errorf("Overlaps is not half-open: %v", r)
	}
	if !(VPNRange{5, 5}).Empty() {
		t.Errorf("zero-length range not empty")
	}
}

func TestProtToAccessType(t *testing.T) {
	for _, tc := range []struct {
		prot uint64
		want AccessType
		ok   bool
	}{
		{0, NoAccess, false},
		{1, Read, true},
		{3, ReadWrite, true},
		{7, AnyAccess, true},
		{8, NoAccess, false},
		{9, NoAccess, false},
	} {
		got, ok := ProtToAccessType(tc.prot)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ProtToAccessType(%#x) = %v, %t, want %v, %t", tc.prot, got, ok, tc.want, tc.ok)
		}
	}
}
