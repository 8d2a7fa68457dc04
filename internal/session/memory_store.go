package session

import (
	"context"
	"sync"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
)

// MemoryStore is a process-local Store for development and tests. The mutex
// stands in for the store-level compare-and-swap that Redis provides.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func copySession(sess *models.Session) *models.Session {
	dup := *sess
	if sess.ElevatedUntil != nil {
		t := *sess.ElevatedUntil
		dup.ElevatedUntil = &t
	}
	if sess.Metadata != nil {
		dup.Metadata = make(map[string]string, len(sess.Metadata))
		for k, v := range sess.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

func (s *MemoryStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.IsExpired(time.Now()) {
		return nil, models.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// UpdateActivity mutates only the activity fields in place, mirroring the
// field-scoped Lua update of the Redis store.
func (s *MemoryStore) UpdateActivity(_ context.Context, id string, upd ActivityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.IsExpired(time.Now()) {
		return models.ErrSessionNotFound
	}
	sess.LastActivityAt = upd.LastActivityAt
	if upd.IPAddress != "" {
		sess.IPAddress = upd.IPAddress
		sess.Location = upd.Location
	}
	return nil
}

func (s *MemoryStore) SetElevation(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.IsExpired(time.Now()) {
		return models.ErrSessionNotFound
	}
	u := until
	sess.ElevatedUntil = &u
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var sessions []*models.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.IsExpired(now) {
			sessions = append(sessions, copySession(sess))
		}
	}
	return sessions, nil
}

func (s *MemoryStore) DeleteAllExcept(_ context.Context, userID, keepID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID && id != keepID {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Sweep drops expired sessions. Reads already filter them out; this just
// reclaims the map entries.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, id, currentJTI, nextJTI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.IsExpired(time.Now()) {
		return models.ErrSessionNotFound
	}
	if sess.RefreshTokenID != currentJTI {
		return models.ErrTokenInvalid
	}
	sess.RefreshTokenID = nextJTI
	return nil
}
