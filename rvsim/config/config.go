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

// Package config provides basic infrastructure to set configuration settings
// for rvsim. Each setting that can be changed from the command line must be
// registered in flags.go. Settings may also come from a TOML file named by
// --config; flags given on the command line take precedence over the file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gvisor.dev/sv39/pkg/hostarch"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/sentry/mm"
)

// Config holds configuration that is not part of a scenario or image.
type Config struct {
	// ConfigFile is the TOML file the rest of the configuration was loaded
	// from, if any.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. The
	// variables %COMMAND% and %TIMESTAMP% are expanded.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// SingleRegionCancel makes legacy unmaps reject ranges that intersect
	// more than one area.
	SingleRegionCancel bool `flag:"single-region-cancel" toml:"single_region_cancel"`

	// MetricsPrefix is prepended to every exported metric name.
	MetricsPrefix string `flag:"metrics-prefix" toml:"metrics_prefix"`

	// Layout describes the kernel image and physical memory.
	Layout Layout `toml:"layout"`
}

// Layout is the TOML form of mm.Layout. Addresses are physical.
type Layout struct {
	Stext         uint64 `toml:"stext"`
	Etext         uint64 `toml:"etext"`
	Srodata       uint64 `toml:"srodata"`
	Erodata       uint64 `toml:"erodata"`
	Sdata         uint64 `toml:"sdata"`
	Edata         uint64 `toml:"edata"`
	SbssWithStack uint64 `toml:"sbss_with_stack"`
	Ebss          uint64 `toml:"ebss"`
	Ekernel       uint64 `toml:"ekernel"`
	Strampoline   uint64 `toml:"strampoline"`
	MemoryEnd     uint64 `toml:"memory_end"`
	UserStackSize uint64 `toml:"user_stack_size"`
}

// DefaultLayout returns the layout of the reference kernel image.
func DefaultLayout() Layout {
	l := mm.DefaultLayout()
	return Layout{
		Stext:         uint64(l.Stext),
		Etext:         uint64(l.Etext),
		Srodata:       uint64(l.Srodata),
		Erodata:       uint64(l.Erodata),
		Sdata:         uint64(l.Sdata),
		Edata:         uint64(l.Edata),
		SbssWithStack: uint64(l.SbssWithStack),
		Ebss:          uint64(l.Ebss),
		Ekernel:       uint64(l.Ekernel),
		Strampoline:   uint64(l.Strampoline),
		MemoryEnd:     uint64(l.MemoryEnd),
		UserStackSize: l.UserStackSize,
	}
}

// ToLayout converts l to an mm.Layout.
func (l Layout) ToLayout() mm.Layout {
	return mm.Layout{
		Stext:         hostarch.PhysAddr(l.Stext),
		Etext:         hostarch.PhysAddr(l.Etext),
		Srodata:       hostarch.PhysAddr(l.Srodata),
		Erodata:       hostarch.PhysAddr(l.Erodata),
		Sdata:         hostarch.PhysAddr(l.Sdata),
		Edata:         hostarch.PhysAddr(l.Edata),
		SbssWithStack: hostarch.PhysAddr(l.SbssWithStack),
		Ebss:          hostarch.PhysAddr(l.Ebss),
		Ekernel:       hostarch.PhysAddr(l.Ekernel),
		Strampoline:   hostarch.PhysAddr(l.Strampoline),
		MemoryEnd:     hostarch.PhysAddr(l.MemoryEnd),
		UserStackSize: l.UserStackSize,
	}
}

// Load decodes the TOML file at path over c. Keys absent from the file keep
// their current values.
func (c *Config) Load(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q has unknown keys %v", path, undecoded)
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) validate() error {
	for _, f := range []struct {
		name, value string
	}{
		{"log-format", c.LogFormat},
		{"debug-log-format", c.DebugLogFormat},
	} {
		switch f.value {
		case "text", "json", "logrus":
		default:
			return fmt.Errorf("invalid %s %q, must be 'text', 'json' or 'logrus'", f.name, f.value)
		}
	}
	if err := c.Layout.ToLayout().Validate(); err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}
	start, end := c.Layout.ToLayout().FrameRange()
	if start >= end {
		return fmt.Errorf("no physical memory between ekernel %#x and memory_end %#x", c.Layout.Ekernel, c.Layout.MemoryEnd)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config file: %q", c.ConfigFile)
	log.Infof("Log: %q, format: %s", c.LogFilename, c.LogFormat)
	log.Infof("Debug: %t, debug log: %q, format: %s", c.Debug, c.DebugLog, c.DebugLogFormat)
	log.Infof("Kernel: [%#x, %#x), trampoline %#x", c.Layout.Stext, c.Layout.Ekernel, c.Layout.Strampoline)
	log.Infof("Memory end: %#x, user stack: %#x bytes", c.Layout.MemoryEnd, c.Layout.UserStackSize)
	log.Infof("Single region cancel: %t", c.SingleRegionCancel)
}
