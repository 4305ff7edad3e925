package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// slowVectorStore blocks until its context is done, to exercise per-leg
// timeout enforcement without a real sleep longer than the test budget.
type slowVectorStore struct{}

func (slowVectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	return nil
}
func (slowVectorStore) Delete(ctx context.Context, id string) error { return nil }
func (slowVectorStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]store.VectorResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowVectorStore) Healthy(ctx context.Context) error { return nil }

func seedVectors(t *testing.T, v *store.MemoryVector, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range ids {
		vec := []float32{float32(len(ids) - i), 0}
		require.NoError(t, v.Upsert(ctx, id, vec, nil))
	}
}

func newTestSelector(explicate, implicate *store.MemoryVector) *Selector {
	fb := NewFallbackAdapter(explicate, store.NewMemoryVector(), resilience.NewHealthCache(0), "explicate", true, true)
	breakers := resilience.NewRegistry(nil, resilience.Options{})
	return NewSelector(explicate, implicate, fb, breakers, true, 200)
}

func TestSelectRejectsNilEmbedding(t *testing.T) {
	s := newTestSelector(store.NewMemoryVector(), store.NewMemoryVector())
	_, err := s.Select(context.Background(), nil, Options{})
	require.ErrorIs(t, err, ErrInvalidSelection)
}

func TestSelectMergesExplicateFirstThenImplicate(t *testing.T) {
	explicate := store.NewMemoryVector()
	implicate := store.NewMemoryVector()
	seedVectors(t, explicate, "e1", "e2")
	seedVectors(t, implicate, "i1")

	s := newTestSelector(explicate, implicate)
	res, err := s.Select(context.Background(), []float32{1, 0}, Options{Roles: []string{"general"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	require.ElementsMatch(t, []string{"e1", "e2"}, []string{res.Items[0].ID, res.Items[1].ID})
	require.Equal(t, "i1", res.Items[2].ID, "implicate results must follow all explicate results")
}

func TestSelectDeduplicatesByIDFirstOccurrenceWins(t *testing.T) {
	explicate := store.NewMemoryVector()
	implicate := store.NewMemoryVector()
	seedVectors(t, explicate, "shared")
	seedVectors(t, implicate, "shared")

	s := newTestSelector(explicate, implicate)
	res, err := s.Select(context.Background(), []float32{1, 0}, Options{Roles: []string{"general"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, "explicate", res.Items[0].Layer, "first occurrence (explicate leg) must win")
}

func TestSelectForceFallbackUsesSecondary(t *testing.T) {
	explicate := store.NewMemoryVector()
	implicate := store.NewMemoryVector()
	seedVectors(t, explicate, "primary-only")

	s := newTestSelector(explicate, implicate)
	res, err := s.Select(context.Background(), []float32{1, 0}, Options{Roles: []string{"general"}, ForceFallback: true})
	require.NoError(t, err)
	require.True(t, res.FallbackUsed)
	require.Equal(t, "force_fallback", res.FallbackReason)
	require.Equal(t, FallbackExplicateK, res.ReducedK["explicate"])
}

func TestSelectBothLegsEmptyReturnsNoItemsWithoutError(t *testing.T) {
	s := newTestSelector(store.NewMemoryVector(), store.NewMemoryVector())
	res, err := s.Select(context.Background(), []float32{1, 0}, Options{Roles: []string{"general"}})
	require.NoError(t, err)
	require.Empty(t, res.Items)
}

func TestSelectParallelLegTimesOutWithinBudget(t *testing.T) {
	breakers := resilience.NewRegistry(nil, resilience.Options{})
	s := NewSelector(slowVectorStore{}, slowVectorStore{}, nil, breakers, true, 50)

	start := time.Now()
	res, err := s.Select(context.Background(), []float32{1, 0}, Options{Roles: []string{"general"}})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Less(t, elapsed, 500*time.Millisecond, "a blocked parallel leg must be cut off at retrieval.timeout_ms, not run unbounded")
	require.Len(t, res.Legs, 2)
	for _, leg := range res.Legs {
		require.True(t, leg.TimedOut, "leg %s must report TimedOut once its per-leg deadline expires", leg.Layer)
	}
	require.NotEmpty(t, res.Warnings)
}

func TestSelectAppliesRoleVisibilityFilter(t *testing.T) {
	explicate := store.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, explicate.Upsert(ctx, "public", []float32{1, 0}, map[string]string{"role_view_level": "0"}))
	require.NoError(t, explicate.Upsert(ctx, "restricted", []float32{1, 0}, map[string]string{"role_view_level": "2"}))

	s := newTestSelector(explicate, store.NewMemoryVector())
	res, err := s.Select(ctx, []float32{1, 0}, Options{Roles: []string{"general"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, "public", res.Items[0].ID)
	require.Equal(t, 1, res.FilteredCount)
}
