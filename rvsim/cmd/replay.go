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

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/metric"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/ring0/pagetables"
	"gvisor.dev/sv39/pkg/sentry/arch"
	"gvisor.dev/sv39/pkg/sentry/kernel"
	"gvisor.dev/sv39/pkg/sentry/mm"
	"gvisor.dev/sv39/pkg/sentry/syscalls/linux"
	"gvisor.dev/sv39/rvsim/cmd/util"
	"gvisor.dev/sv39/rvsim/config"
)

// Scenario is a replay script: programs to load and the steps to run
// against them.
type Scenario struct {
	Programs []Program `yaml:"programs"`
	Steps    []Step    `yaml:"steps"`
}

// Program is an ELF image to load. Relative paths are resolved against the
// directory of the scenario file.
type Program struct {
	// Name defaults to the file name without its extension.
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Step is one operation of a scenario.
//
// Op is one of:
//
//	switch        run Task
//	exit          exit Task
//	mmap          mmap(Addr, Len, Prot)
//	munmap        munmap(Addr, Len)
//	map           legacy map of [Addr, Addr+Len) with Prot
//	unmap         legacy unmap of [Addr, Addr+Len)
//	store         copy Data to Addr in the running task
//	write         write(FD, Addr, Len)
//	gettimeofday  gettimeofday(Addr)
//	task_info     task_info(Addr)
//
// If Want or Errno is set the step's return value is checked. Errno names one
// of the kernel's errors, e.g. "EEXIST".
type Step struct {
	Op    string `yaml:"op"`
	Task  string `yaml:"task"`
	Addr  uint64 `yaml:"addr"`
	Len   uint64 `yaml:"len"`
	Prot  uint64 `yaml:"prot"`
	FD    int64  `yaml:"fd"`
	Data  string `yaml:"data"`
	Want  *int64 `yaml:"want"`
	Errno string `yaml:"errno"`
}

// ParseScenario decodes a scenario. Unknown keys are errors.
func ParseScenario(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	for i, s := range sc.Steps {
		if _, ok := stepOps[s.Op]; !ok {
			return nil, fmt.Errorf("step %d: unknown op %q", i, s.Op)
		}
		if s.Want != nil && s.Errno != "" {
			return nil, fmt.Errorf("step %d: want and errno are exclusive", i)
		}
		if _, ok := linuxerr.FromName(s.Errno); s.Errno != "" && !ok {
			return nil, fmt.Errorf("step %d: unknown errno %q", i, s.Errno)
		}
	}
	return &sc, nil
}

// Replay implements subcommands.Command for the "replay" command.
type Replay struct {
	trace   bool
	maps    bool
	metrics bool
}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string {
	return "replay"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string {
	return "run a scenario of memory syscalls against loaded programs"
}

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay [flags] <scenario.yaml> - loads the scenario's programs, switches to
the first one and runs every step, checking return values where given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Replay) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.trace, "trace", false, "print every step and its return value.")
	f.BoolVar(&r.maps, "maps", false, "print the areas of every live task at the end.")
	f.BoolVar(&r.metrics, "metrics", false, "print metrics in Prometheus format at the end.")
}

// Execute implements subcommands.Command.Execute.
func (r *Replay) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := r.run(conf, f.Arg(0), os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (r *Replay) run(conf *config.Config, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening scenario: %w", err)
	}
	sc, err := ParseScenario(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	k, err := newKernel(conf, w)
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}
	defer k.Release()

	rp := &replayer{k: k, tasks: make(map[string]*kernel.Task)}
	if r.trace {
		rp.trace = w
	}
	if err := rp.load(sc.Programs, filepath.Dir(path)); err != nil {
		return err
	}
	if err := rp.run(sc.Steps); err != nil {
		return err
	}

	if r.maps {
		for _, t := range k.Tasks() {
			if err := t.WithMemorySet(func(ms *mm.MemorySet) error {
				_, err := fmt.Fprintf(w, "%v:\n%s", t, ms.Maps())
				return err
			}); err != nil {
				return err
			}
		}
	}
	if r.metrics {
		if _, err := metric.WritePrometheus(w, conf.MetricsPrefix); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// replayer runs scenario steps against a kernel.
type replayer struct {
	k     *kernel.Kernel
	tasks map[string]*kernel.Task

	// trace receives one line per step, if not nil.
	trace io.Writer
}

// load loads every program and switches to the first.
func (rp *replayer) load(programs []Program, dir string) error {
	paths := make([]string, len(programs))
	for i, p := range programs {
		paths[i] = p.Path
		if !filepath.IsAbs(p.Path) {
			paths[i] = filepath.Join(dir, p.Path)
		}
	}
	images, err := readImages(paths)
	if err != nil {
		return err
	}
	for i, image := range images {
		name := programs[i].Name
		if name == "" {
			name = programName(paths[i])
		}
		if _, ok := rp.tasks[name]; ok {
			return fmt.Errorf("duplicate program name %q", name)
		}
		t, err := rp.k.LoadTask(name, image)
		if err != nil {
			return fmt.Errorf("loading %q: %w", paths[i], err)
		}
		rp.tasks[name] = t
		if i == 0 {
			if err := rp.k.Switch(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rp *replayer) run(steps []Step) error {
	for i, s := range steps {
		ret, err := stepOps[s.Op](rp, s)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, s.Op, err)
		}
		if rp.trace != nil {
			fmt.Fprintf(rp.trace, "%d: %s = %s\n", i, describeStep(s), describeReturn(ret))
		}
		log.Debugf("Replay step %d: %s = %d", i, describeStep(s), ret)
		want, check := s.Want, s.Want != nil
		if e, ok := linuxerr.FromName(s.Errno); ok {
			w := linuxerr.ToSyscallReturn(e)
			want, check = &w, true
		}
		if check && ret != *want {
			return fmt.Errorf("step %d (%s): got %s, want %s", i, describeStep(s), describeReturn(ret), describeReturn(*want))
		}
	}
	return nil
}

type stepFn func(rp *replayer, s Step) (int64, error)

var stepOps = map[string]stepFn{
	"switch": func(rp *replayer, s Step) (int64, error) {
		t, err := rp.task(s.Task)
		if err != nil {
			return 0, err
		}
		return linuxerr.ToSyscallReturn(rp.k.Switch(t)), nil
	},
	"exit": func(rp *replayer, s Step) (int64, error) {
		t, err := rp.task(s.Task)
		if err != nil {
			return 0, err
		}
		return linuxerr.ToSyscallReturn(rp.k.ExitTask(t)), nil
	},
	"mmap": func(rp *replayer, s Step) (int64, error) {
		return rp.k.Syscall(linux.SysMmap, arch.Args(uintptr(s.Addr), uintptr(s.Len), uintptr(s.Prot))), nil
	},
	"munmap": func(rp *replayer, s Step) (int64, error) {
		return rp.k.Syscall(linux.SysMunmap, arch.Args(uintptr(s.Addr), uintptr(s.Len))), nil
	},
	"map": func(rp *replayer, s Step) (int64, error) {
		t := rp.k.Current()
		if t == nil {
			return linuxerr.ToSyscallReturn(linuxerr.ESRCH), nil
		}
		at, ok := hostarch.ProtToAccessType(s.Prot)
		if !ok {
			return linuxerr.ToSyscallReturn(linuxerr.EINVAL), nil
		}
		perm := mm.PermissionFromAccessType(at) | mm.PermU
		start := hostarch.VirtAddr(s.Addr)
		return linuxerr.ToSyscallReturn(t.MapLegacy(start, start+hostarch.VirtAddr(s.Len), perm)), nil
	},
	"unmap": func(rp *replayer, s Step) (int64, error) {
		t := rp.k.Current()
		if t == nil {
			return linuxerr.ToSyscallReturn(linuxerr.ESRCH), nil
		}
		start := hostarch.VirtAddr(s.Addr)
		return linuxerr.ToSyscallReturn(t.UnmapLegacy(start, start+hostarch.VirtAddr(s.Len))), nil
	},
	"store": func(rp *replayer, s Step) (int64, error) {
		token, err := rp.k.CurrentUserToken()
		if err != nil {
			return linuxerr.ToSyscallReturn(err), nil
		}
		var n int
		err = rp.k.WithUserView(token, func(v pagetables.View, mem *pgalloc.Memory) error {
			var err error
			n, err = mm.CopyOut(v, mem, hostarch.VirtAddr(s.Addr), []byte(s.Data))
			return err
		})
		if err != nil {
			return linuxerr.ToSyscallReturn(err), nil
		}
		return int64(n), nil
	},
	"write": func(rp *replayer, s Step) (int64, error) {
		return rp.k.Syscall(linux.SysWrite, arch.Args(uintptr(s.FD), uintptr(s.Addr), uintptr(s.Len))), nil
	},
	"gettimeofday": func(rp *replayer, s Step) (int64, error) {
		return rp.k.Syscall(linux.SysGetTimeOfDay, arch.Args(uintptr(s.Addr))), nil
	},
	"task_info": func(rp *replayer, s Step) (int64, error) {
		return rp.k.Syscall(linux.SysTaskInfo, arch.Args(uintptr(s.Addr))), nil
	},
}

func (rp *replayer) task(name string) (*kernel.Task, error) {
	t, ok := rp.tasks[name]
	if !ok {
		return nil, fmt.Errorf("no program named %q", name)
	}
	return t, nil
}

func describeStep(s Step) string {
	switch s.Op {
	case "switch", "exit":
		return fmt.Sprintf("%s(%s)", s.Op, s.Task)
	case "mmap", "map":
		return fmt.Sprintf("%s(%#x, %#x, %#x)", s.Op, s.Addr, s.Len, s.Prot)
	case "munmap", "unmap":
		return fmt.Sprintf("%s(%#x, %#x)", s.Op, s.Addr, s.Len)
	case "store":
		return fmt.Sprintf("store(%#x, %q)", s.Addr, s.Data)
	case "write":
		return fmt.Sprintf("write(%d, %#x, %#x)", s.FD, s.Addr, s.Len)
	default:
		return fmt.Sprintf("%s(%#x)", s.Op, s.Addr)
	}
}

func describeReturn(ret int64) string {
	if ret < 0 && ret > -4096 {
		if name := unix.ErrnoName(unix.Errno(-ret)); name != "" {
			return fmt.Sprintf("-%s", name)
		}
	}
	return fmt.Sprintf("%d", ret)
}
