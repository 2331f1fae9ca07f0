// Package keylock provides a mutex keyed by string.
//
// Graph link checks and audit appends are serialized per organisation scope
// while different scopes proceed in parallel. Entries are reference counted
// and removed once no goroutine holds or waits on them, so the map stays
// proportional to the number of scopes in flight.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map is a set of mutexes addressed by key. The zero value is ready to use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock acquires the mutex for key and returns its release function.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
