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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/sv39/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. The Errno method returns the number such that the error can be
// compared to unix.Errno (e.g. EINVAL.Errno() == unix.EINVAL).
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                = errors.New(unix.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(unix.ESRCH, "no such process")
	ENOEXEC               = errors.New(unix.ENOEXEC, "exec format error")
	EBADF                 = errors.New(unix.EBADF, "bad file number")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EACCES                = errors.New(unix.EACCES, "permission denied")
	EFAULT                = errors.New(unix.EFAULT, "bad address")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST                = errors.New(unix.EEXIST, "file exists")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	ENOSYS                = errors.New(unix.ENOSYS, "invalid system call number")
)

// byName indexes the errors above by symbolic name.
var byName = func() map[string]*errors.Error {
	m := make(map[string]*errors.Error)
	for _, e := range []*errors.Error{EPERM, ENOENT, ESRCH, ENOEXEC, EBADF, ENOMEM, EACCES, EFAULT, EBUSY, EEXIST, EINVAL, ENOSYS} {
		m[e.Name()] = e
	}
	return m
}()

// FromName returns the error with the given symbolic name, e.g. "EINVAL".
func FromName(name string) (*errors.Error, bool) {
	e, ok := byName[name]
	return e, ok
}

// errorUnwrappers is an array of unwrap functions to extract typed errors.
var errorUnwrappers = []func(error) (*errors.Error, bool){}

// AddErrorUnwrapper registers an unwrap method that can extract a concrete error
// from a typed, but not initialized, error.
func AddErrorUnwrapper(unwrap func(e error) (*errors.Error, bool)) {
	errorUnwrappers = append(errorUnwrappers, unwrap)
}

// TranslateError translates errors to errnos, it will return false if the
// error carries no errno.
func TranslateError(from error) (*errors.Error, bool) {
	var e *errors.Error
	if goerrors.As(from, &e) && e != noError {
		return e, true
	}
	for _, unwrap := range errorUnwrappers {
		if err, ok := unwrap(from); ok {
			return err, true
		}
	}
	return nil, false
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// ToSyscallReturn converts err to the value placed in the syscall return
// register: zero for nil, otherwise the negated errno. Errors without an
// errno are reported as EINVAL.
func ToSyscallReturn(err error) int64 {
	if err == nil {
		return 0
	}
	e, ok := TranslateError(err)
	if !ok {
		e = EINVAL
	}
	return -int64(e.Errno())
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err || goerrors.Is(err, e)
}
