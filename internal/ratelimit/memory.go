package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryStore implements CounterStore in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[CounterKey]*memoryEntry
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[CounterKey]*memoryEntry),
	}
}

// Consume reserves one request in the window when it is below limit.
func (s *MemoryStore) Consume(_ context.Context, key CounterKey, limit int, expiresAt time.Time) (int, bool, error) {
	key = normalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		s.counters[key] = &memoryEntry{count: 1, expiresAt: expiresAt}
		return 1, true, nil
	}
	if entry.count >= limit {
		return entry.count, false, nil
	}
	entry.count++
	return entry.count, true, nil
}

// Get returns the stored count of the window.
func (s *MemoryStore) Get(_ context.Context, key CounterKey) (int, error) {
	key = normalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.counters[key]; entry != nil {
		return entry.count, nil
	}
	return 0, nil
}

// Init creates a zero counter when the window has none.
func (s *MemoryStore) Init(_ context.Context, key CounterKey, expiresAt time.Time) error {
	key = normalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[key]; !ok {
		s.counters[key] = &memoryEntry{expiresAt: expiresAt}
	}
	return nil
}

// Prune drops counters that expired before now.
func (s *MemoryStore) Prune(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.counters {
		if entry.expiresAt.Before(now) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}
