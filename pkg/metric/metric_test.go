// Copyright 2018 The gVisor Authors.
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

package metric

import (
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"
)

var (
	testCounter = MustCreateNewUint64Metric("/metric_test/counter", "a test counter")
	testFielded = MustCreateNewUint64Metric("/metric_test/fielded", "a test counter\nwith fields",
		NewField("result", []string{"ok", "error"}),
		NewField("op", []string{"map", "unmap"}))
	testGaugeValue uint64
)

func init() {
	MustRegisterCustomUint64Metric("/metric_test/gauge", Gauge, "a test gauge", func(...string) uint64 {
		return testGaugeValue
	})
}

func TestRegisterErrors(t *testing.T) {
	if _, err := NewUint64Metric("/metric_test/counter", "dup"); err != ErrNameInUse {
		t.Errorf("duplicate registration: got %v, want %v", err, ErrNameInUse)
	}
	if _, err := NewUint64Metric("no_slash", "bad"); err != ErrInvalidName {
		t.Errorf("invalid name: got %v, want %v", err, ErrInvalidName)
	}
	if _, err := NewUint64Metric("/metric_test/empty_field", "bad", NewField("f", nil)); err != ErrFieldHasNoAllowedValues {
		t.Errorf("empty field: got %v, want %v", err, ErrFieldHasNoAllowedValues)
	}
}

func TestFieldMapperRoundTrip(t *testing.T) {
	m, err := newFieldMapper(
		NewField("a", []string{"a0", "a1"}),
		NewField("b", []string{"b0", "b1", "b2"}))
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	seen := make(map[int]bool)
	for _, a := range []string{"a0", "a1"} {
		for _, b := range []string{"b0", "b1", "b2"} {
			key := m.lookup(a, b)
			if seen[key] {
				t.Errorf("key %d reused for (%s, %s)", key, a, b)
			}
			seen[key] = true
			got := m.keyToMultiField(key)
			if got[0] != a || got[1] != b {
				t.Errorf("keyToMultiField(%d) = %v, want [%s %s]", key, got, a, b)
			}
		}
	}
}

func TestDisallowedFieldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Increment with a disallowed value did not panic")
		}
	}()
	testFielded.Increment("maybe", "map")
}

func TestWritePrometheus(t *testing.T) {
	before := testCounter.Value()
	testCounter.IncrementBy(5)
	testFielded.Increment("error", "unmap")
	testGaugeValue = 17

	var b strings.Builder
	n, err := WritePrometheus(&b, "sv39_")
	if err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if n != b.Len() {
		t.Errorf("WritePrometheus returned %d, wrote %d bytes", n, b.Len())
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("output does not parse: %v\n%s", err, b.String())
	}

	counter, ok := families["sv39_metric_test_counter"]
	if !ok {
		t.Fatalf("counter missing from output:\n%s", b.String())
	}
	if got, want := counter.GetMetric()[0].GetCounter().GetValue(), float64(before+5); got != want {
		t.Errorf("counter = %v, want %v", got, want)
	}

	gauge, ok := families["sv39_metric_test_gauge"]
	if !ok {
		t.Fatalf("gauge missing from output:\n%s", b.String())
	}
	if got := gauge.GetMetric()[0].GetGauge().GetValue(); got != 17 {
		t.Errorf("gauge = %v, want 17", got)
	}

	fielded := families["sv39_metric_test_fielded"]
	if got, want := len(fielded.GetMetric()), 4; got != want {
		t.Fatalf("fielded metric has %d series, want %d", got, want)
	}
	if got, want := fielded.GetHelp(), "a test counter\nwith fields"; got != want {
		t.Errorf("help = %q, want %q", got, want)
	}
	found := false
	for _, m := range fielded.GetMetric() {
		labels := make(map[string]string)
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["result"] == "error" && labels["op"] == "unmap" {
			found = true
			if m.GetCounter().GetValue() < 1 {
				t.Errorf("error/unmap = %v, want >= 1", m.GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Errorf("error/unmap series missing:\n%s", b.String())
	}
}
