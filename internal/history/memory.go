package history

import (
	"context"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the most recent entries in a bounded slice.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	nextID  int64
	entries []Entry
}

// NewMemoryStore returns a store that keeps up to limit entries. A limit
// below one keeps a single entry.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{limit: max(limit, 1)}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.limit; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return e.ID, nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newest(limit, func(Entry) bool { return true }), nil
}

// Search implements [Store] with a case-insensitive substring match.
func (s *MemoryStore) Search(_ context.Context, query string, limit int) ([]Entry, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newest(limit, func(e Entry) bool {
		return e.Text != "" && strings.Contains(strings.ToLower(e.Text), q)
	}), nil
}

// Close implements [Store].
func (s *MemoryStore) Close() {}

// newest walks entries newest first. Caller holds s.mu.
func (s *MemoryStore) newest(limit int, keep func(Entry) bool) []Entry {
	out := []Entry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	return out
}
