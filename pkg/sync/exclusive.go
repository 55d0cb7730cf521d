// Copyright 2024 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"fmt"
)

// ExclusiveCell holds a value that is accessed by at most one caller at a
// time on a single hardware thread. Overlapping access is a programming
// error: Access panics instead of blocking.
//
// The zero value is not usable; use NewExclusiveCell.
type ExclusiveCell[T any] struct {
	name string
	mu   Mutex
	v    T
}

// NewExclusiveCell returns a cell holding v. name appears in the panic
// message on re-entrant access.
func NewExclusiveCell[T any](name string, v T) *ExclusiveCell[T] {
	return &ExclusiveCell[T]{name: name, v: v}
}

// Access runs fn with exclusive access to the cell's value.
//
// Precondition: the cell is not already being accessed.
func (c *ExclusiveCell[T]) Access(fn func(v *T)) {
	if !c.mu.TryLock() {
		panic(fmt.Sprintf("re-entrant access to exclusive cell %q", c.name))
	}
	defer c.mu.Unlock()
	fn(&c.v)
}

// AccessErr is like Access but returns the error from fn.
func (c *ExclusiveCell[T]) AccessErr(fn func(v *T) error) error {
	var err error
	c.Access(func(v *T) {
		err = fn(v)
	})
	return err
}
