// ABOUTME: In-memory platform client for tests
// ABOUTME: Records attribute writes and events and answers watermark queries
package platform

import (
	"context"
	"sync"
	"time"
)

// AttributeWrite is one recorded WriteAttributes call.
type AttributeWrite struct {
	Identity   Identity
	Attributes AttributeMap
}

// EventWrite is one recorded RecordEvent call.
type EventWrite struct {
	Identity Identity
	Event    Event
}

// Memory is an in-memory Client. It records every call and lets tests seed
// the event watermark per identity.
type Memory struct {
	mu     sync.Mutex
	writes []AttributeWrite
	events []EventWrite

	// watermarks maps identity keys to seeded LatestEventTime answers.
	watermarks map[string]time.Time

	// FailWrites makes WriteAttributes return this error when set.
	FailWrites error
}

// NewMemory creates an empty in-memory platform client.
func NewMemory() *Memory {
	return &Memory{watermarks: make(map[string]time.Time)}
}

func identityKey(id Identity) string {
	return id.Email + "|" + id.Domain + "|" + id.Alias
}

func (m *Memory) WriteAttributes(_ context.Context, ident Identity, attrs AttributeMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.writes = append(m.writes, AttributeWrite{Identity: ident, Attributes: attrs})
	return nil
}

func (m *Memory) RecordEvent(_ context.Context, ident Identity, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, EventWrite{Identity: ident, Event: ev})
	return nil
}

func (m *Memory) LatestEventTime(_ context.Context, ident Identity, _ string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[identityKey(ident)], nil
}

// SetWatermark seeds the LatestEventTime answer for an identity.
func (m *Memory) SetWatermark(ident Identity, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[identityKey(ident)] = t
}

// Writes returns the recorded attribute writes.
func (m *Memory) Writes() []AttributeWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AttributeWrite(nil), m.writes...)
}

// Events returns the recorded event writes.
func (m *Memory) Events() []EventWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventWrite(nil), m.events...)
}

// Reset clears all recorded calls.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
	m.events = nil
}
