// Copyright 2024 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"errors"
	"strings"
	"testing"
)

func TestExclusiveCellAccess(t *testing.T) {
	c := NewExclusiveCell("counter", 0)
	for i := 0; i < 3; i++ {
		c.Access(func(v *int) { *v++ })
	}
	var got int
	c.Access(func(v *int) { got = *v })
	if got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}
}

func TestExclusiveCellReentrantPanics(t *testing.T) {
	c := NewExclusiveCell("kernel space", struct{}{})
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("re-entrant Access did not panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "kernel space") {
			t.Errorf("panic = %v, want message naming the cell", r)
		}
	}()
	c.Access(func(*struct{}) {
		c.Access(func(*struct{}) {})
	})
}

func TestExclusiveCellAccessErr(t *testing.T) {
	c := NewExclusiveCell("x", 1)
	want := errors.New("fail")
	if err := c.AccessErr(func(*int) error { return want }); err != want {
		t.Errorf("AccessErr() = %v, want %v", err, want)
	}
	// The cell is usable again after an error.
	if err := c.AccessErr(func(*int) error { return nil }); err != nil {
		t.Errorf("AccessErr() = %v, want nil", err)
	}
}
