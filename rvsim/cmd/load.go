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
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/sentry/kernel"
	"gvisor.dev/sv39/pkg/sentry/mm"
	"gvisor.dev/sv39/rvsim/cmd/util"
	"gvisor.dev/sv39/rvsim/config"
)

// Load implements subcommands.Command for the "load" command.
type Load struct {
	maps bool
}

// Name implements subcommands.Command.Name.
func (*Load) Name() string {
	return "load"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Load) Synopsis() string {
	return "load ELF programs into fresh address spaces"
}

// Usage implements subcommands.Command.Usage.
func (*Load) Usage() string {
	return `load [flags] <program.elf>... - builds one address space per program and
prints its entry point, user stack and token.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Load) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.maps, "maps", false, "print the areas of every loaded program.")
}

// Execute implements subcommands.Command.Execute.
func (l *Load) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := l.run(conf, f.Args(), os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (l *Load) run(conf *config.Config, paths []string, w io.Writer) error {
	images, err := readImages(paths)
	if err != nil {
		return err
	}
	k, err := newKernel(conf, w)
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}
	defer k.Release()

	tasks, err := loadTasks(k, paths, images)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "%v: entry %v, sp %v, token %#x\n", t, t.Entry(), t.StackTop(), uint64(t.Token()))
		if !l.maps {
			continue
		}
		if err := t.WithMemorySet(func(ms *mm.MemorySet) error {
			_, err := io.WriteString(w, ms.Maps())
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// readImages reads every file in paths concurrently. The result is in the
// order of paths.
func readImages(paths []string) ([][]byte, error) {
	images := make([][]byte, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading program: %w", err)
			}
			log.Debugf("Read %d bytes from %q", len(data), path)
			images[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// loadTasks creates one task per image, named after the file it came from.
func loadTasks(k *kernel.Kernel, paths []string, images [][]byte) ([]*kernel.Task, error) {
	tasks := make([]*kernel.Task, 0, len(images))
	for i, image := range images {
		t, err := k.LoadTask(programName(paths[i]), image)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", paths[i], err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func programName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
