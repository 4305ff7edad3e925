package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

func TestWorkerCompletesJobOnSuccess(t *testing.T) {
	s := store.NewInMemoryJobStore()
	ctx := context.Background()
	id, err := s.Enqueue(ctx, store.JobKindImplicateRefresh, map[string]any{"entity_id": "e1"})
	require.NoError(t, err)

	var processed atomic.Bool
	w := NewWorker(s, func(ctx context.Context, job store.Job) error {
		require.Equal(t, id, job.ID)
		processed.Store(true)
		return nil
	})
	w.MinPollInterval = 5 * time.Millisecond
	w.MaxPollInterval = 10 * time.Millisecond

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	go w.Run(runCtx)

	require.Eventually(t, func() bool { return processed.Load() }, 150*time.Millisecond, 5*time.Millisecond)
}

func TestWorkerMarksFailedJobWithError(t *testing.T) {
	s := store.NewInMemoryJobStore()
	ctx := context.Background()
	id, err := s.Enqueue(ctx, store.JobKindImplicateRefresh, nil)
	require.NoError(t, err)

	w := NewWorker(s, func(ctx context.Context, job store.Job) error {
		return errors.New("recompute failed")
	})
	w.MinPollInterval = 5 * time.Millisecond
	w.MaxPollInterval = 10 * time.Millisecond

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	w.Run(runCtx)

	job, ok := s.Lookup(id)
	require.True(t, ok)
	require.Equal(t, store.JobFailed, job.Status)
	require.Contains(t, job.Error, "recompute failed")
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	s := store.NewInMemoryJobStore()
	w := NewWorker(s, func(ctx context.Context, job store.Job) error { return nil })
	w.MinPollInterval = 5 * time.Millisecond
	w.MaxPollInterval = 10 * time.Millisecond

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("worker did not stop after context cancellation")
	}
}
