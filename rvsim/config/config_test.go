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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/sentry/mm"
)

func newTestFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return testFlags
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rvsim.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if diff := cmp.Diff(mm.DefaultLayout(), c.Layout.ToLayout()); diff != "" {
		t.Errorf("default layout mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t, "--debug", "--log-format=json", "--single-region-cancel", "--metrics-prefix=test"))
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
	if want := true; c.SingleRegionCancel != want {
		t.Errorf("SingleRegionCancel=%v, want: %v", c.SingleRegionCancel, want)
	}
	if want := "test"; c.MetricsPrefix != want {
		t.Errorf("MetricsPrefix=%v, want: %v", c.MetricsPrefix, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	args := []string{"--log-format=logrus", "--debug=true", "--debug-log=/tmp/rvsim-%COMMAND%.log", "--alsologtostderr=true"}
	c, err := NewFromFlags(newTestFlags(t, args...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(args, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		args  []string
		error string
	}{
		{
			name:  "log-format",
			args:  []string{"--log-format=xml"},
			error: "invalid log-format",
		},
		{
			name:  "debug-log-format",
			args:  []string{"--debug-log-format=xml"},
			error: "invalid debug-log-format",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFromFlags(newTestFlags(t, tc.args...))
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags(%v) = %v, want error containing %q", tc.args, err, tc.error)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, `
debug = true
log_format = "json"
single_region_cancel = true

[layout]
stext = 0x80200000
etext = 0x80204000
srodata = 0x80204000
erodata = 0x80205000
sdata = 0x80205000
edata = 0x80206000
sbss_with_stack = 0x80206000
ebss = 0x80210000
ekernel = 0x80210000
strampoline = 0x80203000
memory_end = 0x80400000
user_stack_size = 0x4000
`)
	// The command line overrides the file.
	c, err := NewFromFlags(newTestFlags(t, "--config="+path, "--log-format=text"))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:         path,
		LogFormat:          "json",
		Debug:              true,
		DebugLogFormat:     "text",
		SingleRegionCancel: true,
		MetricsPrefix:      "rvsim_",
		Layout: Layout{
			Stext:         0x80200000,
			Etext:         0x80204000,
			Srodata:       0x80204000,
			Erodata:       0x80205000,
			Sdata:         0x80205000,
			Edata:         0x80206000,
			SbssWithStack: 0x80206000,
			Ebss:          0x80210000,
			Ekernel:       0x80210000,
			Strampoline:   0x80203000,
			MemoryEnd:     0x80400000,
			UserStackSize: 0x4000,
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[layout]
memory_end = 0x81000000
`)
	c, err := NewFromFlags(newTestFlags(t, "--config", path))
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultLayout()
	want.MemoryEnd = 0x81000000
	if diff := cmp.Diff(want, c.Layout); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		error    string
	}{
		{
			name:     "unknown key",
			contents: "verbose = true\n",
			error:    "unknown keys",
		},
		{
			name:     "syntax",
			contents: "debug = \n",
			error:    "decoding config file",
		},
		{
			name:     "trampoline outside text",
			contents: "[layout]\nstrampoline = 0x80300000\n",
			error:    "invalid layout",
		},
		{
			name:     "no free memory",
			contents: "[layout]\nmemory_end = 0x80230000\n",
			error:    "no physical memory",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			_, err := NewFromFlags(newTestFlags(t, "--config="+path))
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() = %v, want error containing %q", err, tc.error)
			}
		})
	}
}

func TestOverride(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Override("single-region-cancel", "true"); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if !c.SingleRegionCancel {
		t.Errorf("SingleRegionCancel=false after override")
	}
	if err := c.Override("debug", "maybe"); err == nil {
		t.Errorf("Override(debug, maybe) succeeded")
	}
	if err := c.Override("no-such-flag", "1"); err == nil {
		t.Errorf("Override(no-such-flag) succeeded")
	}
}
