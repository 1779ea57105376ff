package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowStore persists the recent request timestamps for a key. The Redis
// implementation shares the window across request handlers; the memory
// implementation backs tests and single-process deployments.
type WindowStore interface {
	// Get returns the stored timestamps for key, or nil when absent.
	Get(ctx context.Context, key string) ([]time.Time, error)

	// Set replaces the stored timestamps and applies the TTL.
	Set(ctx context.Context, key string, stamps []time.Time, ttl time.Duration) error
}

// MemoryStore is an in-process WindowStore with TTL expiry on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	stamps    []time.Time
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get implements WindowStore.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	stamps := make([]time.Time, len(entry.stamps))
	copy(stamps, entry.stamps)
	return stamps, nil
}

// Set implements WindowStore.
func (s *MemoryStore) Set(ctx context.Context, key string, stamps []time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]time.Time, len(stamps))
	copy(stored, stamps)
	s.entries[key] = memoryEntry{stamps: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}
