// Package retrieval implements the dual-leg selector (component I) and its
// supporting pieces: the vector fallback adapter (component H), the graph
// expander (component J), and the context packer (component K). The shapes
// here generalize the teacher's internal/rag/retrieve package (FuseRRF,
// Diversify, ExpandWithGraph) from a single full-text/vector hybrid search
// into the two-layer explicate/implicate model this spec describes.
package retrieval

import (
	"context"
	"time"

	"github.com/rafaeldicarlantonio/ragd/internal/rbac"
	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// Unconfigurable by design of this spec: the fallback path trades recall
// for a hard latency/result-size ceiling, so these are constants rather
// than config keys.
const (
	FallbackExplicateK = 8
	FallbackImplicateK = 4
	FallbackTimeoutMS  = 350
)

// FallbackAdapter wraps the secondary (pgvector) backend and the primary's
// health state, grounded in the teacher's PostgresVectorStore query shape
// (internal/persistence/databases/postgres_vector.go) but bounded by the
// fixed constants above per spec.md §4.H.
type FallbackAdapter struct {
	primary   store.VectorStore
	secondary store.VectorStore

	health      *resilience.HealthCache
	primaryName string
	fallbacksOn bool
	pgvectorOn  bool
}

// NewFallbackAdapter constructs the adapter. fallbacksEnabled and
// pgvectorEnabled mirror config.Config's eponymous flags.
func NewFallbackAdapter(primary, secondary store.VectorStore, health *resilience.HealthCache, primaryName string, fallbacksEnabled, pgvectorEnabled bool) *FallbackAdapter {
	return &FallbackAdapter{
		primary:     primary,
		secondary:   secondary,
		health:      health,
		primaryName: primaryName,
		fallbacksOn: fallbacksEnabled,
		pgvectorOn:  pgvectorEnabled,
	}
}

// CheckPrimaryHealth consults the health probe cache (component C) rather
// than probing directly, so repeated calls within the TTL are free.
func (a *FallbackAdapter) CheckPrimaryHealth(ctx context.Context) (healthy bool, reason string) {
	if a.primary == nil {
		return false, "no primary backend configured"
	}
	ok, err := a.health.Check(ctx, a.primaryName, a.primary.Healthy)
	if ok {
		return true, ""
	}
	if err != nil {
		return false, "primary probe failed: " + err.Error()
	}
	return false, "primary reported unhealthy"
}

// ShouldUseFallback is true iff fallbacks are enabled, pgvector is enabled,
// and the primary is currently unhealthy.
func (a *FallbackAdapter) ShouldUseFallback(ctx context.Context) (use bool, reason string) {
	if !a.fallbacksOn {
		return false, "fallbacks disabled"
	}
	if !a.pgvectorOn {
		return false, "pgvector disabled"
	}
	healthy, why := a.CheckPrimaryHealth(ctx)
	if healthy {
		return false, "primary healthy"
	}
	return true, why
}

// QueryExplicateFallback queries the secondary backend with the fixed
// explicate cap and timeout. roles determine the role_rank filter via
// rbac.MaxLevel.
func (a *FallbackAdapter) QueryExplicateFallback(ctx context.Context, embedding []float32, topK int, roles []string) ([]store.VectorResult, error) {
	return a.queryFallback(ctx, embedding, topK, FallbackExplicateK, roles)
}

// QueryImplicateFallback is the implicate-layer analogue, capped at 4.
func (a *FallbackAdapter) QueryImplicateFallback(ctx context.Context, embedding []float32, topK int, roles []string) ([]store.VectorResult, error) {
	return a.queryFallback(ctx, embedding, topK, FallbackImplicateK, roles)
}

func (a *FallbackAdapter) queryFallback(ctx context.Context, embedding []float32, topK, cap int, roles []string) ([]store.VectorResult, error) {
	if topK > cap || topK <= 0 {
		topK = cap
	}
	ctx, cancel := context.WithTimeout(ctx, FallbackTimeoutMS*time.Millisecond)
	defer cancel()

	filter := map[string]string{}
	level := rbac.MaxLevel(roles)
	filter["role_rank"] = itoa(level)

	return a.secondary.SimilaritySearch(ctx, embedding, topK, filter)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
