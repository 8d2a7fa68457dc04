package flow

import (
	"context"
	"sync"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
)

type memoryEntry struct {
	flow      models.FlowState
	expiresAt time.Time
}

// MemoryStore is a process-local Store for development and tests. It is not
// suitable for multi-instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]memoryEntry)}
}

func copyFlow(flow *models.FlowState) models.FlowState {
	out := *flow
	if flow.Metadata != nil {
		out.Metadata = make(map[string]string, len(flow.Metadata))
		for k, v := range flow.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func memoryExpiry(flow *models.FlowState) time.Time {
	if flow.IsTerminal() {
		return time.Now().Add(terminalGrace)
	}
	return flow.ExpiresAt
}

func (s *MemoryStore) Create(_ context.Context, flow *models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = memoryEntry{flow: copyFlow(flow), expiresAt: memoryExpiry(flow)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.flows[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.flows, id)
		return nil, models.ErrInvalidFlowState
	}
	flow := copyFlow(&entry.flow)
	return &flow, nil
}

func (s *MemoryStore) Advance(_ context.Context, next *models.FlowState, from models.FlowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.flows[next.ID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.flows, next.ID)
		return models.ErrInvalidFlowState
	}
	if entry.flow.Step != from {
		return models.ErrInvalidFlowState
	}
	s.flows[next.ID] = memoryEntry{flow: copyFlow(next), expiresAt: memoryExpiry(next)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}

// Sweep removes expired entries. Advisory cleanup; Get re-checks expiry
// itself.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, entry := range s.flows {
		if now.After(entry.expiresAt) {
			delete(s.flows, id)
			removed++
		}
	}
	return removed, nil
}
