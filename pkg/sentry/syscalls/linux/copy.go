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

package linux

import (
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
	"gvisor.dev/sv39/pkg/sentry/kernel"
	"gvisor.dev/sv39/pkg/sentry/mm"
)

// Marshallable is an ABI structure with a fixed little-endian encoding.
type Marshallable interface {
	SizeBytes() int
	MarshalBytes(dst []byte)
}

// withCurrentView runs fn with a view of the running task's address space,
// looked up by the current user token.
func withCurrentView(t *kernel.Task, fn func(v pagetables.View, mem *pgalloc.Memory) error) error {
	k := t.Kernel()
	token, err := k.CurrentUserToken()
	if err != nil {
		return err
	}
	return k.WithUserView(token, fn)
}

// copyOutObject encodes src and writes it to the running task's memory at
// addr. Every destination page must be writable from user mode.
func copyOutObject(t *kernel.Task, addr hostarch.VirtAddr, src Marshallable) error {
	buf := make([]byte, src.SizeBytes())
	src.MarshalBytes(buf)
	return withCurrentView(t, func(v pagetables.View, mem *pgalloc.Memory) error {
		if err := mm.CheckUserAccess(v, addr, uint64(len(buf)), hostarch.Write); err != nil {
			rejectLog.Warningf("%v: copy out to %v+%#x: %v", t, addr, len(buf), err)
			return err
		}
		_, err := mm.CopyOut(v, mem, addr, buf)
		return err
	})
}
