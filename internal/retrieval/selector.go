package retrieval

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rafaeldicarlantonio/ragd/internal/rbac"
	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// ErrInvalidSelection is returned for malformed arguments, the only case
// spec.md §4.I allows the selector to fail on.
var ErrInvalidSelection = errors.New("invalid selection argument")

// Item is one piece of evidence carried through selection, expansion, and
// packing. Shaped after the teacher's RetrievedItem (internal/rag/retrieve),
// generalized with a Layer tag for the explicate/implicate split.
type Item struct {
	ID            string
	Layer         string // "explicate" or "implicate"
	Score         float64
	Text          string
	Metadata      map[string]string
	RoleViewLevel int
	ViaGraph      bool
}

// Options controls one Select call.
type Options struct {
	Roles         []string
	ExplicateK    int
	ImplicateK    int
	Filter        map[string]string
	ForceFallback bool
}

func (o Options) withDefaults() Options {
	if o.ExplicateK <= 0 {
		o.ExplicateK = 16
	}
	if o.ImplicateK <= 0 {
		o.ImplicateK = 8
	}
	return o
}

// LegResult records the diagnostics for one leg's query, independent of
// whether it succeeded.
type LegResult struct {
	Layer        string
	LatencyMS    int64
	TimedOut     bool
	Err          string
	UsedFallback bool
}

// SelectionResult is the output of Select. It is always returned, never
// an error, except for ErrInvalidSelection.
type SelectionResult struct {
	Items          []Item
	Legs           []LegResult
	Warnings       []string
	FilteredCount  int
	FallbackUsed   bool
	FallbackReason string
	ReducedK       map[string]int
	TotalWallMS    int64
}

// Selector runs the two-leg explicate/implicate search described in
// spec.md §4.I, merging primary results with the vector fallback adapter
// (component H) behind the circuit breaker registry (component B).
type Selector struct {
	Explicate store.VectorStore
	Implicate store.VectorStore
	Fallback  *FallbackAdapter
	Breakers  *resilience.Registry

	Parallel  bool
	TimeoutMS int
}

// NewSelector constructs a Selector. timeoutMS is retrieval.timeout_ms from
// config.
func NewSelector(explicate, implicate store.VectorStore, fb *FallbackAdapter, breakers *resilience.Registry, parallel bool, timeoutMS int) *Selector {
	return &Selector{Explicate: explicate, Implicate: implicate, Fallback: fb, Breakers: breakers, Parallel: parallel, TimeoutMS: timeoutMS}
}

// Select implements the 7-step algorithm of spec.md §4.I.
func (s *Selector) Select(ctx context.Context, embedding []float32, opts Options) (SelectionResult, error) {
	if embedding == nil {
		return SelectionResult{}, ErrInvalidSelection
	}
	opts = opts.withDefaults()
	if opts.ExplicateK < 0 || opts.ImplicateK < 0 {
		return SelectionResult{}, ErrInvalidSelection
	}

	result := SelectionResult{ReducedK: map[string]int{}}

	useFallback, fallbackReason := false, ""
	if opts.ForceFallback {
		useFallback, fallbackReason = true, "force_fallback"
	} else if s.Fallback != nil {
		useFallback, fallbackReason = s.Fallback.ShouldUseFallback(ctx)
	}

	runLeg := func(ctx context.Context, layer string) ([]store.VectorResult, LegResult) {
		return s.runLeg(ctx, layer, embedding, opts, useFallback)
	}

	var explicateRes, implicateRes []store.VectorResult
	var explicateLeg, implicateLeg LegResult

	deadline := time.Duration(s.TimeoutMS) * time.Millisecond
	if deadline <= 0 {
		deadline = 450 * time.Millisecond
	}

	start := time.Now()
	if s.Parallel {
		grp, gctx := errgroup.WithContext(ctx)
		grp.Go(func() error {
			legCtx, cancel := context.WithTimeout(gctx, deadline)
			defer cancel()
			explicateRes, explicateLeg = runLeg(legCtx, "explicate")
			return nil
		})
		grp.Go(func() error {
			legCtx, cancel := context.WithTimeout(gctx, deadline)
			defer cancel()
			implicateRes, implicateLeg = runLeg(legCtx, "implicate")
			return nil
		})
		_ = grp.Wait()
		result.TotalWallMS = time.Since(start).Milliseconds()
	} else {
		legCtx, cancel := context.WithTimeout(ctx, deadline)
		explicateRes, explicateLeg = runLeg(legCtx, "explicate")
		cancel()
		legCtx2, cancel2 := context.WithTimeout(ctx, deadline)
		implicateRes, implicateLeg = runLeg(legCtx2, "implicate")
		cancel2()
		result.TotalWallMS = explicateLeg.LatencyMS + implicateLeg.LatencyMS
	}
	result.Legs = []LegResult{explicateLeg, implicateLeg}

	// Step 4: any leg reporting a breaker-open switches both legs to
	// fallback for consistency. The legs above already ran against
	// whichever mode useFallback selected at dispatch time; a breaker
	// trip discovered mid-flight is retried once here in fallback mode.
	if (explicateLeg.Err == resilience.ErrBreakerOpen.Error() || implicateLeg.Err == resilience.ErrBreakerOpen.Error()) && !useFallback && s.Fallback != nil {
		useFallback = true
		fallbackReason = "breaker_open"
		explicateRes, explicateLeg = s.runLeg(ctx, "explicate", embedding, opts, true)
		implicateRes, implicateLeg = s.runLeg(ctx, "implicate", embedding, opts, true)
		result.Legs = []LegResult{explicateLeg, implicateLeg}
	}

	if useFallback {
		result.FallbackUsed = true
		result.FallbackReason = fallbackReason
		result.ReducedK["explicate"] = FallbackExplicateK
		result.ReducedK["implicate"] = FallbackImplicateK
	}

	// Step 5: merge, explicate first then implicate, dedup by id.
	merged, warnings := mergeLegs(explicateRes, implicateRes, explicateLeg, implicateLeg)
	result.Warnings = warnings

	// Step 6: role-visibility filter.
	level := rbac.MaxLevel(opts.Roles)
	visible := make([]Item, 0, len(merged))
	for _, it := range merged {
		if it.RoleViewLevel > level {
			continue
		}
		visible = append(visible, it)
	}
	result.FilteredCount = len(merged) - len(visible)
	result.Items = visible

	return result, nil
}

func (s *Selector) runLeg(ctx context.Context, layer string, embedding []float32, opts Options, useFallback bool) ([]store.VectorResult, LegResult) {
	leg := LegResult{Layer: layer, UsedFallback: useFallback}
	start := time.Now()

	k := opts.ExplicateK
	if layer == "implicate" {
		k = opts.ImplicateK
	}

	var breakerName string
	var fn func(ctx context.Context) ([]store.VectorResult, error)

	if useFallback && s.Fallback != nil {
		breakerName = "pgvector"
		if layer == "explicate" {
			fn = func(ctx context.Context) ([]store.VectorResult, error) {
				return s.Fallback.QueryExplicateFallback(ctx, embedding, k, opts.Roles)
			}
		} else {
			fn = func(ctx context.Context) ([]store.VectorResult, error) {
				return s.Fallback.QueryImplicateFallback(ctx, embedding, k, opts.Roles)
			}
		}
	} else {
		backend := s.Explicate
		breakerName = "qdrant_explicate"
		if layer == "implicate" {
			backend = s.Implicate
			breakerName = "qdrant_implicate"
		}
		fn = func(ctx context.Context) ([]store.VectorResult, error) {
			return backend.SimilaritySearch(ctx, embedding, k, opts.Filter)
		}
	}

	var out []store.VectorResult
	var callErr error
	breakerErr := s.withBreaker(ctx, breakerName, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		callErr = err
		return err
	})

	leg.LatencyMS = time.Since(start).Milliseconds()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		leg.TimedOut = true
	}
	if breakerErr != nil {
		leg.Err = breakerErr.Error()
		return nil, leg
	}
	if callErr != nil {
		leg.Err = callErr.Error()
		return nil, leg
	}
	return out, leg
}

func (s *Selector) withBreaker(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if s.Breakers == nil {
		return fn(ctx)
	}
	return s.Breakers.Get(name).Call(ctx, fn)
}

func mergeLegs(explicate, implicate []store.VectorResult, explicateLeg, implicateLeg LegResult) ([]Item, []string) {
	var warnings []string
	if explicateLeg.Err != "" {
		warnings = append(warnings, "explicate leg failed: "+explicateLeg.Err)
	}
	if implicateLeg.Err != "" {
		warnings = append(warnings, "implicate leg failed: "+implicateLeg.Err)
	}
	if len(explicate) == 0 && len(implicate) == 0 {
		return nil, warnings
	}

	seen := make(map[string]struct{}, len(explicate)+len(implicate))
	out := make([]Item, 0, len(explicate)+len(implicate))
	add := func(layer string, rs []store.VectorResult) {
		for _, r := range rs {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, Item{
				ID:            r.ID,
				Layer:         layer,
				Score:         r.Score,
				Metadata:      r.Metadata,
				RoleViewLevel: roleLevelFromMetadata(r.Metadata),
			})
		}
	}
	// spec.md §4.I step 5: concatenate explicate-first, implicate-second;
	// this is a concatenation, not a re-sort, since each leg already comes
	// back ordered by its own backend's relevance.
	add("explicate", explicate)
	add("implicate", implicate)
	return out, warnings
}

func roleLevelFromMetadata(md map[string]string) int {
	if md == nil {
		return 0
	}
	switch md["role_view_level"] {
	case "1":
		return 1
	case "2":
		return 2
	default:
		return 0
	}
}
