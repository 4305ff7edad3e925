package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryJobStore is a JobStore used by tests. Claim is guarded by a
// mutex so it provides the same no-double-claim guarantee the Postgres
// FOR UPDATE SKIP LOCKED transaction provides.
type InMemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[string]Job)}
}

func (s *InMemoryJobStore) Enqueue(_ context.Context, kind string, payload map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.jobs[id] = Job{ID: id, Kind: kind, Payload: payload, Status: JobPending, CreatedAt: time.Now()}
	return id, nil
}

func (s *InMemoryJobStore) Claim(_ context.Context, kind string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []Job
	for _, j := range s.jobs {
		if j.Kind == kind && j.Status == JobPending {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return Job{}, ErrNoJobAvailable
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	chosen := candidates[0]
	now := time.Now()
	chosen.Status = JobRunning
	chosen.ClaimedAt = &now
	s.jobs[chosen.ID] = chosen
	return chosen, nil
}

func (s *InMemoryJobStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	now := time.Now()
	j.Status = JobCompleted
	j.CompletedAt = &now
	s.jobs[id] = j
	return nil
}

// Lookup returns the current state of a job by id, for test assertions.
func (s *InMemoryJobStore) Lookup(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *InMemoryJobStore) Fail(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	now := time.Now()
	j.Status = JobFailed
	j.CompletedAt = &now
	j.Error = reason
	s.jobs[id] = j
	return nil
}
