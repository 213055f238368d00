// Package trace keeps the append-only log of detected contradictions that
// repairs cite for causal traceability.
package trace

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// Namespace seeds content-derived entry ids. Changing it changes every id.
var Namespace = uuid.MustParse("6f1c2a4e-3b5d-5e8f-9a0b-7c6d5e4f3a21")

// Lookup resolves a cited trace entry.
type Lookup interface {
	Get(id string) (norm.TraceEntry, bool)
}

// #region log

// Log is an in-memory append-only trace log, optionally mirrored to a
// Store. Safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []norm.TraceEntry
	byID    map[string]int
	store   *Store
}

// NewLog returns an empty log. A nil store keeps the log in memory only.
func NewLog(store *Store) *Log {
	return &Log{byID: make(map[string]int), store: store}
}

// ID derives the deterministic id of an entry from its content.
func ID(e norm.TraceEntry) (string, error) {
	e.ID = ""
	b, err := canon.Canonicalize(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize trace entry: %w", err)
	}
	return uuid.NewSHA1(Namespace, b).String(), nil
}

// Append assigns the entry its content id and records it. Appending the
// same content twice returns the existing entry.
func (l *Log) Append(e norm.TraceEntry) (norm.TraceEntry, error) {
	id, err := ID(e)
	if err != nil {
		return norm.TraceEntry{}, err
	}
	e.ID = id

	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.byID[id]; ok {
		return l.entries[i], nil
	}
	if l.store != nil {
		if err := l.store.Insert(e, len(l.entries)); err != nil {
			return norm.TraceEntry{}, err
		}
	}
	l.byID[id] = len(l.entries)
	l.entries = append(l.entries, e)
	return e, nil
}

// Get implements Lookup.
func (l *Log) Get(id string) (norm.TraceEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return norm.TraceEntry{}, false
	}
	return l.entries[i], true
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []norm.TraceEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]norm.TraceEntry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry.
func (l *Log) Last() (norm.TraceEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return norm.TraceEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Load rebuilds a log from its store, re-deriving and checking every id.
func Load(store *Store) (*Log, error) {
	entries, err := store.All()
	if err != nil {
		return nil, err
	}
	l := NewLog(store)
	for i, e := range entries {
		id, err := ID(e)
		if err != nil {
			return nil, err
		}
		if id != e.ID {
			return nil, fmt.Errorf("trace entry %d: stored id %s does not match content %s", i, e.ID, id)
		}
		l.byID[id] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	return l, nil
}

// #endregion log
