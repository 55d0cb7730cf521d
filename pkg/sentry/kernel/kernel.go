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

// Package kernel holds the state shared by every address space: physical
// memory, the frame allocator, the kernel address space and the tasks.
//
// Lock order:
//
//	Kernel.mu
//	  Task.mm (ExclusiveCell)
//
// The kernel address space has its own ExclusiveCell and is never accessed
// with Kernel.mu held.
package kernel

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
	"gvisor.dev/sv39/pkg/sentry/mm"
	"gvisor.dev/sv39/pkg/sentry/platform"
	"gvisor.dev/sv39/pkg/sync"
)

// Options configures a Kernel.
type Options struct {
	// Layout is the kernel image layout and memory size.
	Layout mm.Layout

	// MMU receives address space switches. If nil, a SimulatedMMU is used.
	MMU platform.MMU

	// Clock returns the current time. If nil, time.Now is used.
	Clock func() time.Time

	// SingleRegionCancel makes UnmapLegacy reject ranges that intersect more
	// than one area.
	SingleRegionCancel bool

	// Stdout receives bytes written to file descriptor 1. If nil, os.Stdout
	// is used.
	Stdout io.Writer

	// SyscallTable dispatches Syscall. If nil, every syscall fails with
	// ENOSYS.
	SyscallTable *SyscallTable
}

// Kernel is the process-wide context object.
type Kernel struct {
	layout             mm.Layout
	mem                *pgalloc.Memory
	alloc              *pgalloc.Allocator
	mmu                platform.MMU
	clock              func() time.Time
	singleRegionCancel bool
	table              *SyscallTable
	stdout             io.Writer

	// kernelSpace is the kernel address space. It panics on re-entrant
	// access.
	kernelSpace *sync.ExclusiveCell[*mm.MemorySet]

	// kernelToken is kernelSpace's token. Immutable.
	kernelToken pagetables.Token

	mu sync.Mutex

	// spaces maps the token of every live task address space to its task.
	// Protected by mu.
	spaces map[pagetables.Token]*Task

	// tasks holds live tasks in creation order. Protected by mu.
	tasks []*Task

	// current is the running task, or nil. Protected by mu.
	current *Task

	// nextTID is the ID of the next task. Protected by mu.
	nextTID ThreadID
}

// New builds physical memory, the frame allocator and the kernel address
// space described by opts, verifies the kernel mapping and activates it.
func New(opts Options) (*Kernel, error) {
	l := opts.Layout
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	start, end := l.FrameRange()
	mem := pgalloc.NewMemory(l.MemoryEnd.Floor())
	k := &Kernel{
		layout:             l,
		mem:                mem,
		alloc:              pgalloc.NewAllocator(mem, start, end),
		mmu:                opts.MMU,
		clock:              opts.Clock,
		singleRegionCancel: opts.SingleRegionCancel,
		table:              opts.SyscallTable,
		stdout:             opts.Stdout,
		spaces:             make(map[pagetables.Token]*Task),
		nextTID:            1,
	}
	if k.mmu == nil {
		k.mmu = platform.NewSimulatedMMU()
	}
	if k.clock == nil {
		k.clock = time.Now
	}
	if k.stdout == nil {
		k.stdout = os.Stdout
	}
	if k.table == nil {
		k.table = &SyscallTable{}
	}

	ks, err := mm.NewKernelSpace(k.alloc, l)
	if err != nil {
		return nil, fmt.Errorf("building kernel space: %w", err)
	}
	if err := mm.VerifyKernelSpace(ks, l); err != nil {
		ks.Release()
		return nil, fmt.Errorf("kernel space self-test: %w", err)
	}
	log.Infof("Kernel space self-test passed")
	ks.Activate(k.mmu)
	k.kernelToken = ks.Token()
	k.kernelSpace = sync.NewExclusiveCell("kernel space", ks)
	log.Infof("Kernel space activated, token %v, %d frames free", k.kernelToken, k.alloc.Free())
	return k, nil
}

// Layout returns the kernel image layout.
func (k *Kernel) Layout() mm.Layout {
	return k.layout
}

// Memory returns simulated physical memory.
func (k *Kernel) Memory() *pgalloc.Memory {
	return k.mem
}

// Allocator returns the frame allocator.
func (k *Kernel) Allocator() *pgalloc.Allocator {
	return k.alloc
}

// MMU returns the MMU address spaces are activated on.
func (k *Kernel) MMU() platform.MMU {
	return k.mmu
}

// Now returns the kernel clock's current time.
func (k *Kernel) Now() time.Time {
	return k.clock()
}

// Stdout returns the writer behind file descriptor 1.
func (k *Kernel) Stdout() io.Writer {
	return k.stdout
}

// KernelToken returns the kernel address space's token.
func (k *Kernel) KernelToken() pagetables.Token {
	return k.kernelToken
}

// WithKernelSpace runs fn with exclusive access to the kernel address space.
// It panics if called from within another WithKernelSpace.
func (k *Kernel) WithKernelSpace(fn func(ms *mm.MemorySet) error) error {
	return k.kernelSpace.AccessErr(func(ms **mm.MemorySet) error {
		return fn(*ms)
	})
}

// Tasks returns the live tasks in creation order.
func (k *Kernel) Tasks() []*Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.tasks)
}

// Current returns the running task, or nil.
func (k *Kernel) Current() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// CurrentUserToken returns the running task's address space token. It
// returns ESRCH if no task is running.
func (k *Kernel) CurrentUserToken() (pagetables.Token, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == nil {
		return 0, linuxerr.ESRCH
	}
	return k.current.token, nil
}

// WithUserView runs fn with a read-only view of the address space identified
// by token, for translating user pointers from kernel code. The view must
// not be retained after fn returns. It returns EFAULT if token does not name
// a live task address space.
func (k *Kernel) WithUserView(token pagetables.Token, fn func(v pagetables.View, mem *pgalloc.Memory) error) error {
	k.mu.Lock()
	_, ok := k.spaces[token]
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("no address space with token %v: %w", token, linuxerr.EFAULT)
	}
	v, err := pagetables.NewView(k.mem, token)
	if err != nil {
		return fmt.Errorf("%v: %w", err, linuxerr.EFAULT)
	}
	return fn(v, k.mem)
}

// Release tears down every task and the kernel address space. The Kernel
// must not be used afterwards.
func (k *Kernel) Release() {
	for _, t := range k.Tasks() {
		if err := k.ExitTask(t); err != nil {
			log.Warningf("Releasing task %v: %v", t, err)
		}
	}
	k.kernelSpace.Access(func(ms **mm.MemorySet) {
		(*ms).Release()
	})
	log.Debugf("Kernel released, %d frames in use", k.alloc.InUse())
}
