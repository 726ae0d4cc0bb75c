// Package dstore implements the two generic durable stores every feature
// builds on: a whole-document JSON map store with debounced atomic flushes
// (Map) and an append-only JSONL store (Log).
//
// In-memory state is authoritative between crashes; the disk artifact is a
// snapshot promoted through fsio's recovery ladder at next open.
package dstore

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/fsio"
)

// FlushDebounce is the delay between a mutation and its disk flush.
// Mutations arriving inside the window coalesce into one write.
const FlushDebounce = 100 * time.Millisecond

// Map is an in-memory index keyed by primary key, persisted as a single
// pretty-printed JSON document. Backs tasks, reports, VMs, skills,
// extensions, agent manifests.
type Map[T any] struct {
	path      string
	normalize func(*T)

	mu    sync.RWMutex
	items map[string]T

	flushMu sync.Mutex
	timer   *time.Timer
}

// OpenMap runs crash recovery on path and loads the document into memory.
// normalize, when non-nil, fills schema defaults on every loaded record so
// documents written by older versions stay loadable.
func OpenMap[T any](path string, normalize func(*T)) (*Map[T], error) {
	m := &Map[T]{
		path:      path,
		normalize: normalize,
		items:     make(map[string]T),
	}

	result, err := fsio.Recover(path, nil)
	if err != nil {
		return nil, err
	}
	if result == fsio.Recovered {
		log.Warn().Str("path", path).Msg("recovered store from tmp sibling")
	}
	if result != fsio.RecoverEmpty {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &m.items); err != nil {
			return nil, err
		}
		if normalize != nil {
			for k, v := range m.items {
				normalize(&v)
				m.items[k] = v
			}
		}
	}
	return m, nil
}

// Mutate applies f to the index under the write lock and schedules a flush.
// If f returns an error the mutation is considered not to have happened and
// no flush is scheduled; f must not leave partial changes behind on error.
func (m *Map[T]) Mutate(f func(items map[string]T) error) error {
	m.mu.Lock()
	err := f(m.items)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.scheduleFlush()
	return nil
}

// View runs f with a shared read lock on the index.
func (m *Map[T]) View(f func(items map[string]T)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f(m.items)
}

// Get returns the record for key.
func (m *Map[T]) Get(key string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

// Len returns the number of records.
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// scheduleFlush arms the single-shot debounce timer. A mutation arriving
// while a flush is already pending defers to that flush; one arriving while
// a flush is writing arms the next tick. Writes are never lost, only
// coalesced.
func (m *Map[T]) scheduleFlush() {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	if m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(FlushDebounce, func() {
		m.flushMu.Lock()
		m.timer = nil
		m.flushMu.Unlock()
		if err := m.writeSnapshot(); err != nil {
			// In-memory state stays authoritative; the next mutation retries.
			log.Error().Err(err).Str("path", m.path).Msg("store flush failed")
		}
	})
}

// Flush cancels any pending timer and writes the snapshot immediately.
// Used for graceful shutdown and test tear-down.
func (m *Map[T]) Flush() error {
	m.flushMu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.flushMu.Unlock()
	return m.writeSnapshot()
}

// writeSnapshot serializes under the read lock, then writes outside it.
func (m *Map[T]) writeSnapshot() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.items, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return fsio.WriteAtomic(m.path, data)
}
