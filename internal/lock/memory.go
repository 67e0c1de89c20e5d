package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expiry is evaluated against the
// now passed by the caller, so tests control time through the Manager clock.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: map[string]memoryEntry{}}
}

// TryAcquire implements Store.
func (s *MemoryStore) TryAcquire(_ context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[key]; ok && current.expiresAt.After(now) {
		return false, nil
	}
	s.locks[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[key]; ok && current.owner == owner {
		delete(s.locks, key)
	}
	return nil
}

// PurgeExpired implements Purger.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, current := range s.locks {
		if !current.expiresAt.After(now) {
			delete(s.locks, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored locks, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Held reports whether key has an unexpired holder at now.
func (s *MemoryStore) Held(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.locks[key]
	return ok && current.expiresAt.After(now)
}
