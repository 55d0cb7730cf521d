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

// Package cmd holds implementations of the rvsim commands.
package cmd

import (
	"io"

	"gvisor.dev/sv39/pkg/sentry/kernel"
	"gvisor.dev/sv39/pkg/sentry/syscalls/linux"
	"gvisor.dev/sv39/rvsim/config"
)

// newKernel boots a kernel with the layout and behavior in conf. Program
// output from the write syscall goes to stdout.
func newKernel(conf *config.Config, stdout io.Writer) (*kernel.Kernel, error) {
	return kernel.New(kernel.Options{
		Layout:             conf.Layout.ToLayout(),
		SingleRegionCancel: conf.SingleRegionCancel,
		Stdout:             stdout,
		SyscallTable:       linux.RISCV64,
	})
}
