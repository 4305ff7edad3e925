package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthCacheServesCachedPositive(t *testing.T) {
	c := NewHealthCache(50 * time.Millisecond)
	var calls int32
	probe := func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil }

	healthy, err := c.Check(context.Background(), "qdrant", probe)
	require.NoError(t, err)
	require.True(t, healthy)

	healthy, err = c.Check(context.Background(), "qdrant", probe)
	require.NoError(t, err)
	require.True(t, healthy)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "second check within TTL must not re-probe")
}

// TestHealthCacheExpiresOnBoundary covers the testable property in spec.md
// §8: a health cache entry expiring exactly on the TTL boundary triggers a
// fresh probe.
func TestHealthCacheExpiresOnBoundary(t *testing.T) {
	c := NewHealthCache(20 * time.Millisecond)
	var calls int32
	probe := func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil }

	_, _ = c.Check(context.Background(), "qdrant", probe)
	time.Sleep(25 * time.Millisecond)
	_, _ = c.Check(context.Background(), "qdrant", probe)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHealthCacheNeverCachesNegative(t *testing.T) {
	c := NewHealthCache(time.Minute)
	var calls int32
	failing := func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return errors.New("down") }

	healthy, err := c.Check(context.Background(), "qdrant", failing)
	require.Error(t, err)
	require.False(t, healthy)

	healthy, err = c.Check(context.Background(), "qdrant", failing)
	require.Error(t, err)
	require.False(t, healthy)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls), "a negative result must never be served from cache")
}

func TestHealthCacheCollapsesConcurrentProbes(t *testing.T) {
	c := NewHealthCache(time.Minute)
	var calls int32
	release := make(chan struct{})
	probe := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			healthy, _ := c.Check(context.Background(), "qdrant", probe)
			results[i] = healthy
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent probes against the same backend must collapse into one call")
	for _, r := range results {
		require.True(t, r)
	}
}

func TestHealthCacheInvalidateForcesReprobe(t *testing.T) {
	c := NewHealthCache(time.Minute)
	var calls int32
	probe := func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil }

	_, _ = c.Check(context.Background(), "qdrant", probe)
	c.Invalidate("qdrant")
	_, _ = c.Check(context.Background(), "qdrant", probe)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
