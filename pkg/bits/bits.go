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

// Package bits contains non-atomic bit operations on unsigned integers.
package bits

// Unsigned is the set of integer types bit operations apply to.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T Unsigned](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T Unsigned](i int) T {
	return T(1) << uint(i)
}

// Field extracts the width-bit field of v starting at bit shift.
func Field(v uint64, shift, width uint) uint64 {
	return (v >> shift) & ((uint64(1) << width) - 1)
}

// SetField returns v with the width-bit field starting at bit shift replaced
// by f. Bits of f above width are discarded.
func SetField(v uint64, shift, width uint, f uint64) uint64 {
	m := ((uint64(1) << width) - 1) << shift
	return (v &^ m) | ((f << shift) & m)
}

// ForEachSetBit calls f once for each set bit in x, with argument i equal to
// the set bit's index, lowest first.
func ForEachSetBit[T Unsigned](x T, f func(i int)) {
	for i := 0; x != 0; i++ {
		if x&1 != 0 {
			f(i)
		}
		x >>= 1
	}
}
