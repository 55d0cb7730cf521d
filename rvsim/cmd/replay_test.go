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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testScenario = `
programs:
  - path: hello.elf
  - name: other
    path: hello.elf
steps:
  - op: mmap
    addr: 0x20000000
    len: 0x2000
    prot: 3
    want: 0
  - op: mmap
    addr: 0x20001000
    len: 0x1000
    prot: 3
    errno: EEXIST
  - op: store
    addr: 0x20000ffc
    data: "hello, world\n"
    want: 13
  - op: write
    fd: 1
    addr: 0x20000ffc
    len: 13
    want: 13
  - op: munmap
    addr: 0x20000000
    len: 0x1000
    want: 0
  - op: write
    fd: 1
    addr: 0x20000ffc
    len: 13
    errno: EFAULT
  - op: switch
    task: other
    want: 0
  - op: map
    addr: 0x30000000
    len: 0x1000
    prot: 1
    want: 0
  - op: map
    addr: 0x30000000
    len: 0x1000
    prot: 1
    errno: EEXIST
  - op: unmap
    addr: 0x30000000
    len: 0x1000
    want: 0
  - op: exit
    task: hello
    want: 0
  - op: switch
    task: hello
    errno: ESRCH
`

func writeScenario(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	writeProgram(t, dir, "hello.elf")
	path := writeScenario(t, dir, testScenario)

	var out bytes.Buffer
	r := &Replay{trace: true, maps: true, metrics: true}
	if err := r.run(testConfig(t), path, &out); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	for _, want := range []string{
		"hello, world\n",
		"1: mmap(0x20001000, 0x1000, 0x3) = -EEXIST",
		"5: write(1, 0x20000ffc, 0xd) = -EFAULT",
		"11: switch(hello) = -ESRCH",
		"2(other):",
		"rvsim_kernel_syscalls",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestReplayMismatch(t *testing.T) {
	dir := t.TempDir()
	writeProgram(t, dir, "hello.elf")
	path := writeScenario(t, dir, `
programs:
  - path: hello.elf
steps:
  - op: munmap
    addr: 0x20000000
    len: 0x1000
    want: 0
`)
	var out bytes.Buffer
	err := (&Replay{}).run(testConfig(t), path, &out)
	if err == nil || !strings.Contains(err.Error(), "got -EINVAL, want 0") {
		t.Errorf("run = %v, want mismatch error", err)
	}
}

func TestReplayWithoutPrograms(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
steps:
  - op: mmap
    addr: 0x20000000
    len: 0x1000
    prot: 3
    errno: ESRCH
  - op: map
    addr: 0x20000000
    len: 0x1000
    prot: 3
    errno: ESRCH
`)
	var out bytes.Buffer
	if err := (&Replay{}).run(testConfig(t), path, &out); err != nil {
		t.Errorf("run: %v", err)
	}
}

func TestParseScenarioErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		error    string
	}{
		{"unknown key", "steps:\n  - op: mmap\n    size: 1\n", "decoding scenario"},
		{"unknown op", "steps:\n  - op: fork\n", `unknown op "fork"`},
		{"want and errno", "steps:\n  - op: mmap\n    want: 0\n    errno: EINVAL\n", "exclusive"},
		{"unknown errno", "steps:\n  - op: mmap\n    errno: EWHATEVER\n", "unknown errno"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario(strings.NewReader(tc.contents))
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("ParseScenario = %v, want error containing %q", err, tc.error)
			}
		})
	}
}

func TestReplayUnknownTask(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "steps:\n  - op: switch\n    task: nobody\n")
	err := (&Replay{}).run(testConfig(t), path, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), `no program named "nobody"`) {
		t.Errorf("run = %v, want unknown program error", err)
	}
}

func TestReplayErrnoMismatch(t *testing.T) {
	dir := t.TempDir()
	writeProgram(t, dir, "hello.elf")
	path := writeScenario(t, dir, `
programs:
  - path: hello.elf
steps:
  - op: mmap
    addr: 0x20000001
    len: 0x1000
    prot: 3
    errno: EEXIST
`)
	err := (&Replay{}).run(testConfig(t), path, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "got -EINVAL, want -EEXIST") {
		t.Errorf("run = %v, want errno mismatch error", err)
	}
}
