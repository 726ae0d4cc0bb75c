package dstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/fsio"
)

// Log is an append-only JSONL store. Backs the feed, journal, worklog and
// commit ledger. Records append synchronously to the file; deletions filter
// in memory and rewrite the file atomically.
type Log[T any] struct {
	path        string
	maxInMemory int // 0 = unbounded; disk retains everything regardless

	mu      sync.Mutex
	entries []T
	file    *os.File
}

// OpenLog loads path line by line, skipping malformed lines so a partially
// corrupt file never prevents startup. maxInMemory, when > 0, bounds the
// in-memory window to the newest records.
func OpenLog[T any](path string, maxInMemory int) (*Log[T], error) {
	l := &Log[T]{path: path, maxInMemory: maxInMemory}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(path); err == nil {
		skipped := 0
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var rec T
			if err := json.Unmarshal(line, &rec); err != nil {
				skipped++
				continue
			}
			l.entries = append(l.entries, rec)
		}
		if skipped > 0 {
			log.Warn().Int("lines", skipped).Str("path", path).Msg("skipped malformed log lines")
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	l.trim()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l.file = f
	return l, nil
}

// Append serializes rec and appends it to memory and disk.
func (l *Log[T]) Append(rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}
	l.entries = append(l.entries, rec)
	l.trim()
	return nil
}

// AppendIf appends rec unless an existing entry matches dup, checking
// and appending under one critical section so concurrent writers cannot
// both pass the check. Returns false when a match blocked the append.
func (l *Log[T]) AppendIf(dup func(T) bool, rec T) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if dup(e) {
			return false, nil
		}
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return false, err
	}
	l.entries = append(l.entries, rec)
	l.trim()
	return true, nil
}

// Entries returns a copy of the in-memory window, oldest first.
func (l *Log[T]) Entries() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter returns the entries matching pred, oldest first.
func (l *Log[T]) Filter(pred func(T) bool) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []T
	for _, e := range l.entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the in-memory entry count.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Rewrite keeps only entries matching keep, rewriting the whole file
// atomically. Returns the number of entries removed.
func (l *Log[T]) Rewrite(keep func(T) bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []T
	var buf bytes.Buffer
	for _, e := range l.entries {
		if !keep(e) {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return 0, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
		kept = append(kept, e)
	}
	removed := len(l.entries) - len(kept)

	if err := l.file.Close(); err != nil {
		return 0, err
	}
	if err := fsio.WriteAtomic(l.path, buf.Bytes()); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	l.file = f
	l.entries = kept
	return removed, nil
}

// Close releases the file handle.
func (l *Log[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Log[T]) trim() {
	if l.maxInMemory > 0 && len(l.entries) > l.maxInMemory {
		drop := len(l.entries) - l.maxInMemory
		l.entries = append([]T(nil), l.entries[drop:]...)
	}
}
