// Copyright 2018 The gVisor Authors.
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
	"bytes"
	"fmt"
	"strings"

	"gvisor.dev/sv39/pkg/hostarch"
)

// Maps returns a /proc/[pid]/maps style listing of the address space, one
// line per area in address order followed by the trampoline if mapped.
func (ms *MemorySet) Maps() string {
	var b bytes.Buffer
	ms.index.Ascend(func(a *Area) bool {
		name := a.name
		if name == "" && a.typ == Framed {
			name = "[anon]"
		}
		writeMapsEntry(&b, a.vpns, a.perm, a.NumFrames(), name)
		return true
	})
	if ms.trampoline {
		r := hostarch.VPNRange{Start: TrampolineAddr.Floor(), End: TrampolineAddr.Floor() + 1}
		writeMapsEntry(&b, r, PermR|PermX, 0, "[trampoline]")
	}
	return b.String()
}

// writeMapsEntry writes one maps line, including the trailing newline. The
// permission column is "rwxu" and the offset column holds the number of
// frames the area owns.
func writeMapsEntry(b *bytes.Buffer, r hostarch.VPNRange, perm MapPermission, frames int, name string) {
	start := b.Len()
	fmt.Fprintf(b, "%08x-%08x %s %08x 00:00 0 ",
		uint64(r.Start)<<hostarch.PageShift, uint64(r.End)<<hostarch.PageShift, perm, frames)
	if name != "" {
		// Per linux, we pad until the 74th character.
		if pad := 73 - (b.Len() - start); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(name)
	}
	b.WriteString("\n")
}
