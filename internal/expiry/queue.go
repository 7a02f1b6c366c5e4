// Package expiry is the single mechanism that forces stalled pending
// payments to Expired. Deadlines live in a durable delayed queue, scheduling
// is idempotent, and the handler is guarded by the payment state machine's
// compare-and-set, so at-least-once delivery is safe.
package expiry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Queue is a durable delayed queue of payment ids keyed by deadline.
type Queue interface {
	// Add schedules id to fire at the given time. Adding an id that is
	// already queued is a no-op: the original deadline stands.
	Add(ctx context.Context, id string, at time.Time) error

	// PopDue atomically claims and removes every entry due at or before now.
	// An entry is returned to exactly one caller across all instances.
	PopDue(ctx context.Context, now time.Time) ([]string, error)

	// Remove drops a scheduled entry if present.
	Remove(ctx context.Context, id string) error
}

// Memory is an in-process Queue for tests and single-node development. It
// provides the claim semantics but not durability.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time)}
}

func (m *Memory) Add(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		return nil
	}
	m.entries[id] = at
	return nil
}

func (m *Memory) PopDue(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []string
	for id, at := range m.entries {
		if !at.After(now) {
			due = append(due, id)
			delete(m.entries, id)
		}
	}
	sort.Strings(due)
	return due, nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len reports the number of queued entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
