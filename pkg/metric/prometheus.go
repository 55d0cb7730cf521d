// Copyright 2023 The gVisor Authors.
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
	"fmt"
	"io"
	"sort"
	"strings"
)

// PrometheusName converts a registered metric name such as "/mm/frames" to
// its Prometheus form, "<prefix>mm_frames".
func PrometheusName(prefix, name string) string {
	return prefix + strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

// countingWriter counts the number of bytes written to it.
type countingWriter struct {
	w       io.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.written += n
	return n, err
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format. It returns the number of bytes written.
func WritePrometheus(w io.Writer, prefix string) (int, error) {
	cw := &countingWriter{w: w}
	last := ""
	for _, s := range Snapshot() {
		name := PrometheusName(prefix, s.Name)
		if s.Name != last {
			if err := writeHeader(cw, name, s); err != nil {
				return cw.written, err
			}
			last = s.Name
		}
		if _, err := io.WriteString(cw, name); err != nil {
			return cw.written, err
		}
		if err := writeLabels(cw, s.Fields); err != nil {
			return cw.written, err
		}
		if _, err := fmt.Fprintf(cw, " %d\n", s.Value); err != nil {
			return cw.written, err
		}
	}
	return cw.written, nil
}

func writeHeader(w io.Writer, name string, s Sample) error {
	if s.Description != "" {
		// Only backslashes and line breaks need escaping.
		help := strings.ReplaceAll(strings.ReplaceAll(s.Description, "\\", "\\\\"), "\n", "\\n")
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n", name, help); err != nil {
			return err
		}
	}
	metricType := "counter"
	if s.Kind == Gauge {
		metricType = "gauge"
	}
	_, err := fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	return err
}

func writeLabels(w io.Writer, labels map[string]string) error {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		v := strings.ReplaceAll(labels[k], "\\", "\\\\")
		v = strings.ReplaceAll(v, "\n", "\\n")
		v = strings.ReplaceAll(v, "\"", "\\\"")
		fmt.Fprintf(&b, "%s=\"%s\"", k, v)
	}
	b.WriteByte('}')
	_, err := io.WriteString(w, b.String())
	return err
}
