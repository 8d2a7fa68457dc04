package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store for development and tests. It is not
// suitable for multi-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, subjectID, purpose string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[challengeKey(subjectID, purpose)] = memoryEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, subjectID, purpose string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey(subjectID, purpose)
	entry, ok := s.entries[key]
	if !ok {
		return nil, models.ErrChallengeNotFound
	}
	delete(s.entries, key)

	if time.Now().After(entry.expiresAt) {
		return nil, models.ErrChallengeNotFound
	}
	return entry.data, nil
}

// Sweep removes expired entries. Advisory cleanup; Consume re-checks expiry
// itself.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
