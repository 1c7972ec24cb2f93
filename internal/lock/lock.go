// Package lock provides in-process mutual exclusion keyed by arbitrary
// string resource identifiers.  Every invariant in the engine (single-use
// codes, seat capacity, at-most-once payment application) relies on the
// manager serializing critical sections per key.
package lock

import (
	"sort"
	"sync"
)

// Manager hands out one mutex per active key.  Mutexes are reference
// counted and dropped from the table when the last holder releases, so the
// table stays proportional to in-flight work rather than to every key ever
// seen.  Locks carry no timeout: callers bound their own outbound calls
// inside a critical section.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewManager returns an empty lock manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// WithLocks acquires every named lock, runs fn, and releases all locks on
// every exit path.  Keys are deduplicated and sorted here, at the manager
// boundary, so two call sites requesting overlapping key sets always
// acquire them in the same relative order; callers never order keys
// themselves.  WithLocks is not reentrant: fn must not call WithLocks again
// with a key it already holds.
func (m *Manager) WithLocks(keys []string, fn func() error) error {
	ordered := canonical(keys)
	acquired := make([]*entry, 0, len(ordered))
	for _, k := range ordered {
		e := m.retain(k)
		e.mu.Lock()
		acquired = append(acquired, e)
	}
	defer func() {
		// Release in reverse acquisition order.
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].mu.Unlock()
			m.release(ordered[i])
		}
	}()
	return fn()
}

// WithLock is shorthand for a single-key critical section.
func (m *Manager) WithLock(key string, fn func() error) error {
	return m.WithLocks([]string{key}, fn)
}

// retain fetches or creates the entry for key and bumps its refcount.
func (m *Manager) retain(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	return e
}

// release drops one reference and removes the entry once unused.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.entries, key)
	}
}

// canonical returns the deduplicated keys in sorted order.  Empty keys are
// dropped; they name no resource.
func canonical(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
