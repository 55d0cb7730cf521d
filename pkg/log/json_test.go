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

package log

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{
		Writer: &Writer{Next: tw},
		Fields: map[string]string{"command": "replay"},
	}
	ts := time.Date(2024, time.March, 7, 13, 4, 5, 0, time.UTC)
	e.Emit(0, Warning, ts, "mmap of %#x overlaps", 0x20000000)

	out := strings.Join(tw.lines, "")
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("output %q is not newline terminated", out)
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", out, err)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller = %q, want json_test.go:<line>", got.Caller)
	}
	got.Caller = ""
	want := jsonLog{
		Time:   ts,
		Level:  Warning,
		Msg:    "mmap of 0x20000000 overlaps",
		Fields: map[string]string{"command": "replay"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("line mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONEmitterWithoutFields(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{Writer: &Writer{Next: tw}}
	e.Emit(0, Debug, time.Now(), "frame %d", 7)
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.Join(tw.lines, "")), &raw); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if _, ok := raw["fields"]; ok {
		t.Errorf("fields present without any set: %v", raw)
	}
	if raw["level"] != "debug" || raw["msg"] != "frame 7" {
		t.Errorf("got level=%v msg=%v, want debug, frame 7", raw["level"], raw["msg"])
	}
}

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: `"warning"`, want: Warning},
		{in: `"info"`, want: Info},
		{in: `"debug"`, want: Debug},
		{in: `0`, want: Warning},
		{in: `2`, want: Debug},
		{in: `"trace"`, wantErr: true},
		{in: `3`, wantErr: true},
		{in: `-1`, wantErr: true},
	} {
		var got Level
		err := json.Unmarshal([]byte(tc.in), &got)
		if (err != nil) != tc.wantErr {
			t.Errorf("Unmarshal(%s) err = %v, wantErr %t", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal(Level(7)) succeeded, want error")
	}
}
