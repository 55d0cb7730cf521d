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
	"time"

	"gvisor.dev/sv39/pkg/abi/linux"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
	"gvisor.dev/sv39/pkg/sentry/mm"
	"gvisor.dev/sv39/pkg/sync"
)

// ThreadID is a task identifier.
type ThreadID int32

// TaskStatus is the scheduling state of a task.
type TaskStatus uint32

// Task states.
const (
	TaskUninit TaskStatus = iota
	TaskReady
	TaskRunning
	TaskExited
)

// String implements fmt.Stringer.String.
func (s TaskStatus) String() string {
	switch s {
	case TaskUninit:
		return "uninit"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskExited:
		return "exited"
	default:
		return fmt.Sprintf("TaskStatus(%d)", uint32(s))
	}
}

// Task is a user program with its own address space.
type Task struct {
	k    *Kernel
	tid  ThreadID
	name string

	// Immutable after LoadTask.
	entry    hostarch.VirtAddr
	stackTop hostarch.VirtAddr
	token    pagetables.Token

	// mm holds the address space; nil once the task has exited.
	mm *sync.ExclusiveCell[*mm.MemorySet]

	// The fields below are protected by Kernel.mu.
	status        TaskStatus
	firstRun      time.Time
	syscallCounts [linux.MaxSyscallNum]uint32
}

// LoadTask builds an address space from an ELF image and registers a new,
// ready task running it.
func (k *Kernel) LoadTask(name string, image []byte) (*Task, error) {
	img, err := mm.FromELF(k.alloc, k.layout, image)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", name, err)
	}
	t := &Task{
		k:        k,
		name:     name,
		entry:    img.Entry,
		stackTop: img.StackTop,
		token:    img.MemorySet.Token(),
		mm:       sync.NewExclusiveCell(name+" address space", img.MemorySet),
		status:   TaskReady,
	}

	k.mu.Lock()
	t.tid = k.nextTID
	k.nextTID++
	k.tasks = append(k.tasks, t)
	k.spaces[t.token] = t
	k.mu.Unlock()

	log.Infof("Loaded task %v: entry %v, user sp %v, token %v", t, t.entry, t.stackTop, t.token)
	return t, nil
}

// Kernel returns the task's kernel.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns the task's ID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Name returns the name the task was loaded with.
func (t *Task) Name() string {
	return t.name
}

// Entry returns the program entry point.
func (t *Task) Entry() hostarch.VirtAddr {
	return t.entry
}

// StackTop returns the initial user stack pointer.
func (t *Task) StackTop() hostarch.VirtAddr {
	return t.stackTop
}

// Token returns the task's address space token.
func (t *Task) Token() pagetables.Token {
	return t.token
}

// TrapContext returns the physical address of the task's trap context page.
func (t *Task) TrapContext() (hostarch.PhysAddr, error) {
	var pa hostarch.PhysAddr
	err := t.WithMemorySet(func(ms *mm.MemorySet) error {
		var ok bool
		if pa, ok = ms.TranslateAddr(mm.TrapContextAddr); !ok {
			return fmt.Errorf("trap context of %v not mapped: %w", t, linuxerr.EFAULT)
		}
		return nil
	})
	return pa, err
}

// Status returns the task's scheduling state.
func (t *Task) Status() TaskStatus {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.status
}

// FirstRun returns the time the task was first switched to, or the zero time.
func (t *Task) FirstRun() time.Time {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.firstRun
}

// SyscallCounts returns the number of times each syscall was invoked.
func (t *Task) SyscallCounts() [linux.MaxSyscallNum]uint32 {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.syscallCounts
}

// WithMemorySet runs fn with exclusive access to the task's address space. It
// returns ESRCH if the task has exited and panics on re-entrant use.
func (t *Task) WithMemorySet(fn func(ms *mm.MemorySet) error) error {
	return t.mm.AccessErr(func(ms **mm.MemorySet) error {
		if *ms == nil {
			return fmt.Errorf("task %v has exited: %w", t, linuxerr.ESRCH)
		}
		return fn(*ms)
	})
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("%d(%s)", t.tid, t.name)
}

// Switch makes t the running task and activates its address space. The
// previously running task, if any, becomes ready.
//
// Precondition: nothing is executing under the previous address space.
func (k *Kernel) Switch(t *Task) error {
	k.mu.Lock()
	if t.status == TaskExited {
		k.mu.Unlock()
		return fmt.Errorf("switch to %v: %w", t, linuxerr.ESRCH)
	}
	if prev := k.current; prev != nil && prev != t {
		prev.status = TaskReady
	}
	if t.firstRun.IsZero() {
		t.firstRun = k.clock()
	}
	t.status = TaskRunning
	k.current = t
	k.mu.Unlock()

	log.Debugf("Switching to %v", t)
	return t.WithMemorySet(func(ms *mm.MemorySet) error {
		ms.Activate(k.mmu)
		return nil
	})
}

// ExitTask unregisters t and releases its address space. If t was running,
// the kernel address space is activated.
func (k *Kernel) ExitTask(t *Task) error {
	k.mu.Lock()
	if t.status == TaskExited {
		k.mu.Unlock()
		return fmt.Errorf("exit of %v: %w", t, linuxerr.ESRCH)
	}
	t.status = TaskExited
	delete(k.spaces, t.token)
	for i, o := range k.tasks {
		if o == t {
			k.tasks = append(k.tasks[:i], k.tasks[i+1:]...)
			break
		}
	}
	wasCurrent := k.current == t
	if wasCurrent {
		k.current = nil
	}
	k.mu.Unlock()

	if wasCurrent {
		k.kernelSpace.Access(func(ms **mm.MemorySet) {
			(*ms).Activate(k.mmu)
		})
	}
	t.mm.Access(func(ms **mm.MemorySet) {
		(*ms).Release()
		*ms = nil
	})
	log.Infof("Task %v exited, %d frames in use", t, k.alloc.InUse())
	return nil
}
