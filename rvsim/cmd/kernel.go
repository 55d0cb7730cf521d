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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sv39/pkg/sentry/mm"
	"gvisor.dev/sv39/rvsim/cmd/util"
	"gvisor.dev/sv39/rvsim/config"
)

// Kernel implements subcommands.Command for the "kernel" command.
type Kernel struct {
	maps bool
}

// Name implements subcommands.Command.Name.
func (*Kernel) Name() string {
	return "kernel"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Kernel) Synopsis() string {
	return "build and verify the kernel address space"
}

// Usage implements subcommands.Command.Usage.
func (*Kernel) Usage() string {
	return `kernel [flags] - builds the kernel address space from the configured
layout, checks the identity mapping of every section and prints a summary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (k *Kernel) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&k.maps, "maps", false, "print every area of the kernel address space.")
}

// Execute implements subcommands.Command.Execute.
func (k *Kernel) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := k.run(conf, os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (k *Kernel) run(conf *config.Config, w io.Writer) error {
	kern, err := newKernel(conf, w)
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}
	defer kern.Release()

	fmt.Fprintf(w, "token: %#x\n", uint64(kern.KernelToken()))
	alloc := kern.Allocator()
	fmt.Fprintf(w, "frames: %d in use, %d free\n", alloc.InUse(), alloc.Free())
	if !k.maps {
		return nil
	}
	return kern.WithKernelSpace(func(ms *mm.MemorySet) error {
		_, err := io.WriteString(w, ms.Maps())
		return err
	})
}
