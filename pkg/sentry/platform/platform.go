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

// Package platform provides the hart-level MMU abstraction.
//
// See MMU for more information.
package platform

import (
	"fmt"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/sync"
)

// MMU is the translation hardware of one hart.
type MMU interface {
	// WriteSATP loads the translation-base register.
	WriteSATP(token uint64)

	// FlushTLB discards all cached translations (sfence.vma with no
	// operands).
	FlushTLB()

	// SATP returns the current translation-base register value.
	SATP() uint64
}

// Event is a single operation recorded by SimulatedMMU.
type Event struct {
	// Op is "satp" or "sfence.vma".
	Op string

	// Value is the token written for "satp" events.
	Value uint64
}

// String implements fmt.Stringer.String.
func (e Event) String() string {
	if e.Op == OpFlush {
		return e.Op
	}
	return fmt.Sprintf("%s=%#x", e.Op, e.Value)
}

// Event operations.
const (
	OpWriteSATP = "satp"
	OpFlush     = "sfence.vma"
)

// SimulatedMMU records register writes and flushes instead of performing
// them.
type SimulatedMMU struct {
	mu     sync.Mutex
	satp   uint64
	events []Event
}

// NewSimulatedMMU returns an MMU with translation disabled (satp = 0).
func NewSimulatedMMU() *SimulatedMMU {
	return &SimulatedMMU{}
}

// WriteSATP implements MMU.WriteSATP.
func (m *SimulatedMMU) WriteSATP(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.satp = token
	m.events = append(m.events, Event{Op: OpWriteSATP, Value: token})
	log.Debugf("satp <- %#x", token)
}

// FlushTLB implements MMU.FlushTLB.
func (m *SimulatedMMU) FlushTLB() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Op: OpFlush})
}

// SATP implements MMU.SATP.
func (m *SimulatedMMU) SATP() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.satp
}

// Events returns a copy of the recorded events.
func (m *SimulatedMMU) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
