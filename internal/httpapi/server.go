// Package httpapi exposes the query/ingest endpoints and the /debug/*
// operability family (spec.md §6), wiring the RBAC gate, dual selector,
// graph expander, context packer, reviewer, and redactor into the one
// request flow spec.md §2 describes: request → RBAC gate → (I) under
// (B,C,H) → (J) → (K) → answer generation (external) → optional (L) →
// (F) → response. Routing follows the teacher's Go 1.22 method-pattern
// mux and its respondJSON/respondError helpers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rafaeldicarlantonio/ragd/internal/config"
	"github.com/rafaeldicarlantonio/ragd/internal/ingest"
	"github.com/rafaeldicarlantonio/ragd/internal/obs"
	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
	"github.com/rafaeldicarlantonio/ragd/internal/review"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// EmbeddingFunc turns query text into a vector, backed by the opaque
// embedding client (internal/embedding.EmbedText).
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// AnswerGenerator is the opaque answer-generation step spec.md §2 places
// outside this service's components ("answer generation (external)").
// No concrete LLM-backed implementation ships with this package, and
// cmd/ragd does not set one (nor ingest's NLP capabilities); without an
// AnswerGen the query path generates no answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query string, context []retrieval.Item) (string, error)
}

// Server wires every component into the query/ingest/debug surface.
type Server struct {
	Config    config.Config
	Metrics   *obs.Registry
	Breakers  *resilience.Registry
	Health    *resilience.HealthCache
	Selector  *retrieval.Selector
	Analyzer  *ingest.Analyzer
	Stores    ingest.Stores
	Reviewer  *review.Reviewer
	Embed     EmbeddingFunc
	AnswerGen AnswerGenerator

	mux       *http.ServeMux
	startedAt time.Time
}

// NewServer constructs a Server and registers its routes. Callers build the
// struct with its dependencies set, then pass it here to finish wiring.
func NewServer(s *Server) *Server {
	s.startedAt = time.Now()
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/query", s.handleQuery)
	s.mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	s.mux.HandleFunc("GET /debug/config", s.handleDebugConfig)
	s.mux.HandleFunc("GET /debug/metrics", s.handleDebugMetrics)
	s.mux.HandleFunc("GET /debug/health", s.handleDebugHealth)
	s.mux.HandleFunc("GET /debug/breakers", s.handleDebugBreakers)
}
