package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryMemoryStore is a MemoryStore used by tests.
type InMemoryMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Memory
}

func NewInMemoryMemoryStore() *InMemoryMemoryStore {
	return &InMemoryMemoryStore{items: make(map[string]Memory)}
}

func (s *InMemoryMemoryStore) Put(_ context.Context, m Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.items[m.ID] = m
	return nil
}

func (s *InMemoryMemoryStore) Get(_ context.Context, id string) (Memory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.items[id]
	return m, ok, nil
}

func (s *InMemoryMemoryStore) AppendContradiction(_ context.Context, id string, c Contradiction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[id]
	if !ok {
		return nil
	}
	m.Contradictions = append(m.Contradictions, c)
	s.items[id] = m
	return nil
}
