// Package review implements the optional reviewer stage (component L): a
// quality pass over a drafted answer, run under a hard deadline and behind
// its own circuit breaker so a slow or failing review backend never holds
// up the response path.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
)

// Skip reasons, verbatim per spec.md §4.L.
const (
	SkipReviewerDisabled = "reviewer_disabled"
	SkipBreakerOpen      = "circuit_breaker_open"
)

// Backend performs the underlying quality pass. Implementations wrap a
// specific LLM provider (anthropic.go, openai.go, google.go).
type Backend interface {
	Review(ctx context.Context, answerText string, context []retrieval.Item, query string) (Verdict, error)
}

// Verdict is what a Backend returns on a completed (non-skipped) review.
type Verdict struct {
	Score      float64
	Confidence float64
	Flags      []string
	Details    string
}

// Result is the full ReviewResult of spec.md §4.L. Score/Confidence/Flags/
// Details are only meaningful when Skipped is false; the JSON encoding at
// the httpapi layer omits them entirely when skipped (handled by the
// envelope's omitempty tags, not here).
type Result struct {
	Skipped    bool
	SkipReason string
	Score      float64
	Confidence float64
	Flags      []string
	Details    string
	LatencyMS  int64
}

// Reviewer wires a Backend behind the config flag, the breaker registry,
// and a hard budget deadline.
type Reviewer struct {
	Backend  Backend
	Breakers *resilience.Registry
	Enabled  bool
	BudgetMS int
}

// NewReviewer constructs a Reviewer. budgetMS is reviewer_budget_ms from
// config; the "reviewer" breaker is looked up in breakers lazily on first use.
func NewReviewer(backend Backend, breakers *resilience.Registry, enabled bool, budgetMS int) *Reviewer {
	return &Reviewer{Backend: backend, Breakers: breakers, Enabled: enabled, BudgetMS: budgetMS}
}

const reviewerBreakerName = "reviewer"

// ReviewAnswer implements spec.md §4.L's review_answer contract. It never
// returns an error: every failure mode is encoded as a skip reason.
func (r *Reviewer) ReviewAnswer(ctx context.Context, answerText string, evidence []retrieval.Item, query string) Result {
	start := time.Now()

	if !r.Enabled || r.Backend == nil {
		return Result{Skipped: true, SkipReason: SkipReviewerDisabled, LatencyMS: time.Since(start).Milliseconds()}
	}

	budget := time.Duration(r.BudgetMS) * time.Millisecond
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}

	breaker := r.breaker()
	if breaker != nil {
		if snap := breaker.State(); snap.State == resilience.StateOpen {
			return Result{Skipped: true, SkipReason: SkipBreakerOpen, LatencyMS: time.Since(start).Milliseconds()}
		}
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var verdict Verdict
	callErr := r.callThroughBreaker(deadlineCtx, func(ctx context.Context) error {
		v, err := r.Backend.Review(ctx, answerText, evidence, query)
		verdict = v
		return err
	})

	elapsed := time.Since(start)
	if errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) {
		return Result{Skipped: true, SkipReason: "timeout_exceeded: " + itoaMS(r.BudgetMS), LatencyMS: elapsed.Milliseconds()}
	}
	if callErr != nil {
		return Result{Skipped: true, SkipReason: "error: " + classifyError(callErr), LatencyMS: elapsed.Milliseconds()}
	}

	return Result{
		Skipped:    false,
		Score:      verdict.Score,
		Confidence: verdict.Confidence,
		Flags:      verdict.Flags,
		Details:    verdict.Details,
		LatencyMS:  elapsed.Milliseconds(),
	}
}

func (r *Reviewer) breaker() *resilience.Breaker {
	if r.Breakers == nil {
		return nil
	}
	return r.Breakers.Get(reviewerBreakerName)
}

func (r *Reviewer) callThroughBreaker(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Breakers == nil {
		return fn(ctx)
	}
	return r.Breakers.Get(reviewerBreakerName).Call(ctx, fn)
}

func classifyError(err error) string {
	if errors.Is(err, resilience.ErrBreakerOpen) {
		return "breaker_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "backend_failure"
}

func itoaMS(n int) string {
	if n <= 0 {
		n = 500
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:]) + "ms"
}
