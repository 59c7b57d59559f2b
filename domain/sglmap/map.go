// Package sglmap is the single-global-lock reference client: a plain
// hash map behind one mutex. It is the low-contention baseline for
// the reclamation benchmarks — the lock serializes the map itself,
// but retired entries still flow through the engine like everywhere
// else.
package sglmap

import (
	"sync"

	"smr/reclaim/hyaline"
	"smr/reclaim/ibr"
)

// Mem is the per-worker reclamation session, mirroring the tree
// client's contract.
type Mem interface {
	Enter()
	Exit()
	Alloc(key, val int64) *Entry
	Retire(e *Entry)
}

// Entry carries the payload plus the engine-owned headers.
type Entry struct {
	ibr.Header
	hyaline.Link
	hyaline.SLink

	key int64
	val int64
}

// ReclaimHeader satisfies ibr.Object.
func (e *Entry) ReclaimHeader() *ibr.Header { return &e.Header }

// Key returns the entry's key.
func (e *Entry) Key() int64 { return e.key }

// Val returns the entry's value.
func (e *Entry) Val() int64 { return e.val }

// ResetEntry prepares a pooled entry for reuse.
func (e *Entry) ResetEntry(key, val int64) {
	e.key = key
	e.val = val
	e.Link.Reset()
}

// Map is the locked hash map.
type Map struct {
	mu sync.Mutex
	m  map[int64]*Entry
}

func New() *Map {
	return &Map{m: make(map[int64]*Entry)}
}

// Insert stores key=val and reports whether the key was new. An
// overwritten entry is retired — it may still be visible to a reader
// that grabbed it before we took the lock.
func (mp *Map) Insert(m Mem, key, val int64) bool {
	m.Enter()
	defer m.Exit()

	e := m.Alloc(key, val)

	mp.mu.Lock()
	old, existed := mp.m[key]
	mp.m[key] = e
	if existed {
		m.Retire(old)
	}
	mp.mu.Unlock()

	return !existed
}

// Remove deletes key, retiring its entry.
func (mp *Map) Remove(m Mem, key int64) bool {
	m.Enter()
	defer m.Exit()

	mp.mu.Lock()
	old, existed := mp.m[key]
	if existed {
		delete(mp.m, key)
		m.Retire(old)
	}
	mp.mu.Unlock()

	return existed
}

// Find reports the value stored under key.
func (mp *Map) Find(m Mem, key int64) (int64, bool) {
	m.Enter()
	defer m.Exit()

	mp.mu.Lock()
	e, ok := mp.m[key]
	mp.mu.Unlock()

	if !ok {
		return 0, false
	}
	return e.val, true
}

// Len reports the live entry count.
func (mp *Map) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.m)
}
