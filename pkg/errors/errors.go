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

// Package errors defines the errno-carrying error returned across the kernel
// and out of syscalls.
package errors

import (
	"golang.org/x/sys/unix"
)

// Error is an errno paired with the message reported for it. Errors are
// compared by identity; wrap them with fmt.Errorf("...: %w") to add context.
type Error struct {
	errno   unix.Errno
	message string
}

// New returns an Error for err. An empty message uses the host's text for
// err.
func New(err unix.Errno, message string) *Error {
	if message == "" {
		message = err.Error()
	}
	return &Error{errno: err, message: message}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the errno reported to user space.
func (e *Error) Errno() unix.Errno { return e.errno }

// Name returns the symbolic errno name, e.g. "EINVAL", or "" if the errno has
// none.
func (e *Error) Name() string { return unix.ErrnoName(e.errno) }

// Is lets errors.Is match an Error against the bare unix.Errno it carries.
func (e *Error) Is(target error) bool {
	errno, ok := target.(unix.Errno)
	return ok && e != nil && errno == e.errno
}
