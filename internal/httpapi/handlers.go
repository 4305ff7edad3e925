package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rafaeldicarlantonio/ragd/internal/guard"
	"github.com/rafaeldicarlantonio/ragd/internal/ingest"
	"github.com/rafaeldicarlantonio/ragd/internal/rbac"
	"github.com/rafaeldicarlantonio/ragd/internal/redact"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// Metric names this package observes. Nothing upstream of the query
// handler emits retrieval/graph/reviewer timings or error/fallback
// counters, so this is the one place they're defined.
const (
	metricRetrievalMS      = "retrieval_ms"
	metricGraphExpandMS    = "graph_expand_ms"
	metricReviewerMS       = "reviewer_ms"
	metricRetrievalError   = "retrieval_error_total"
	metricPgvectorFallback = "pgvector_fallback_total"
	metricQueryTotal       = "query_total"
)

// queryRequest is the inbound shape for POST /v1/query.
type queryRequest struct {
	Query  string            `json:"query"`
	Roles  []string          `json:"roles"`
	Filter map[string]string `json:"filter,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{string(rbac.RoleGeneral)}
	}
	if !rbac.HasCapability(req.Roles[0], rbac.CapReadPublic) {
		respondError(w, http.StatusForbidden, "role lacks READ_PUBLIC")
		return
	}

	var trace []redact.TraceLine

	embedding, err := s.Embed(ctx, req.Query)
	if err != nil {
		respondError(w, http.StatusBadGateway, "embedding failed: "+err.Error())
		return
	}

	retrievalStart := time.Now()
	selection, err := s.Selector.Select(ctx, embedding, retrieval.Options{Roles: req.Roles, Filter: req.Filter})
	retrievalMS := time.Since(retrievalStart).Milliseconds()
	if s.Metrics != nil {
		s.Metrics.ObserveHistogram(metricRetrievalMS, float64(retrievalMS), nil)
	}
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.IncrementCounter(metricRetrievalError, nil)
		}
		respondError(w, http.StatusBadRequest, "selection failed: "+err.Error())
		return
	}
	if selection.FallbackUsed && s.Metrics != nil {
		s.Metrics.IncrementCounter(metricPgvectorFallback, map[string]string{"reason": selection.FallbackReason})
	}
	trace = append(trace, redact.TraceLine{Step: "retrieval", DurationMS: float64(retrievalMS), Status: legStatus(selection)})

	graphStart := time.Now()
	expanded, graphDiag, contradictions := retrieval.ExpandWithGraph(ctx, s.Stores.Graph, selection.Items, retrieval.GraphExpandOptions{
		BudgetMS: s.Config.GraphTimeoutMS,
		Roles:    req.Roles,
	})
	graphMS := time.Since(graphStart).Milliseconds()
	if s.Metrics != nil {
		s.Metrics.ObserveHistogram(metricGraphExpandMS, float64(graphMS), nil)
	}
	trace = append(trace, redact.TraceLine{Step: "graph_expand", DurationMS: float64(graphMS), Status: "ok", Extra: map[string]any{"expanded": graphDiag.Expanded}})

	packed := retrieval.Pack(expanded, retrieval.PackOptions{TokenBudget: defaultTokenBudget, Metrics: s.Metrics})
	trace = append(trace, redact.TraceLine{Step: "packing", DurationMS: float64(packed.PackingMS), Status: "ok"})

	answer := ""
	if s.AnswerGen != nil {
		answer, err = s.AnswerGen.GenerateAnswer(ctx, req.Query, packed.Items)
		if err != nil {
			answer = ""
			selection.Warnings = append(selection.Warnings, "answer generation failed: "+err.Error())
		}
	}

	var reviewMap map[string]any
	if s.Reviewer != nil {
		reviewStart := time.Now()
		res := s.Reviewer.ReviewAnswer(ctx, answer, packed.Items, req.Query)
		reviewMS := time.Since(reviewStart).Milliseconds()
		if s.Metrics != nil && !res.Skipped {
			s.Metrics.ObserveHistogram(metricReviewerMS, float64(reviewMS), nil)
		}
		reviewMap = map[string]any{"skipped": res.Skipped, "latency_ms": res.LatencyMS}
		if res.Skipped {
			reviewMap["skip_reason"] = res.SkipReason
		} else {
			reviewMap["score"] = res.Score
			reviewMap["confidence"] = res.Confidence
		}
		trace = append(trace, redact.TraceLine{Step: "review", DurationMS: float64(reviewMS), Status: "ok"})
	}

	env := redact.Envelope{
		RoleApplied:         req.Roles[0],
		Answer:              answer,
		Context:             toContextItems(packed.Items),
		Contradictions:      toAnySlice(contradictions),
		ProcessTraceSummary: trace,
		Fallback: map[string]any{
			"used":      selection.FallbackUsed,
			"reason":    selection.FallbackReason,
			"reduced_k": selection.ReducedK,
		},
		Timings: map[string]any{
			"retrieval_ms": retrievalMS,
			"graph_ms":     graphMS,
			"packing_ms":   packed.PackingMS,
			"total_ms":     time.Since(total).Milliseconds(),
		},
		Warnings: selection.Warnings,
		Review:   reviewMap,
	}

	if s.Metrics != nil {
		s.Metrics.IncrementCounter(metricQueryTotal, nil)
	}

	respondJSON(w, http.StatusOK, redact.Redact(env, req.Roles))
}

func legStatus(sel retrieval.SelectionResult) string {
	for _, leg := range sel.Legs {
		if leg.Err != "" {
			return "partial"
		}
	}
	return "ok"
}

const defaultTokenBudget = 4000

func toContextItems(items []retrieval.Item) []redact.ContextItem {
	out := make([]redact.ContextItem, 0, len(items))
	for _, it := range items {
		prov := make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			prov[k] = v
		}
		out = append(out, redact.ContextItem{
			ID:            it.ID,
			Text:          it.Text,
			Score:         it.Score,
			SourceLayer:   it.Layer,
			Provenance:    prov,
			RoleViewLevel: it.RoleViewLevel,
		})
	}
	return out
}

func toAnySlice(cs []retrieval.Contradiction) []any {
	out := make([]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, map[string]any{
			"subject":        c.Subject,
			"claim_a_source": c.ClaimASource,
			"claim_b_source": c.ClaimBSource,
		})
	}
	return out
}

// ingestRequest is the inbound shape for POST /v1/ingest.
type ingestRequest struct {
	MemoryID   string         `json:"memory_id,omitempty"`
	FileID     string         `json:"file_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	Title      string         `json:"title,omitempty"`
	Roles      []string       `json:"roles"`
	Provenance map[string]any `json:"provenance,omitempty"`
	External   bool           `json:"external,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{string(rbac.RoleGeneral)}
	}
	if !rbac.HasCapability(req.Roles[0], rbac.CapProposeHypothesis) && !rbac.HasCapability(req.Roles[0], rbac.CapWriteGraph) {
		respondError(w, http.StatusForbidden, "role lacks an ingest capability")
		return
	}

	sourceItem := guard.Item{ID: req.FileID, Provenance: req.Provenance, External: req.External}
	if _, err := guard.ForbidExternalPersistence([]guard.Item{sourceItem}, "ingest_chunk", true); err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	memoryID := req.MemoryID
	if memoryID == "" {
		memoryID = uuid.NewString()
	}
	mem := store.Memory{
		ID:            memoryID,
		Text:          req.Text,
		Title:         req.Title,
		RoleViewLevel: rbac.MaxLevel(req.Roles),
		Provenance:    req.Provenance,
	}
	if err := s.Stores.Memory.Put(ctx, mem); err != nil {
		respondError(w, http.StatusInternalServerError, "persist memory: "+err.Error())
		return
	}

	resp := map[string]any{"memory_id": memoryID}

	if s.Config.IngestAnalysisEnabled && s.Analyzer != nil {
		limits := ingest.Limits{
			MaxVerbs:              s.Config.MaxVerbs,
			MaxFrames:             s.Config.MaxFrames,
			MaxConcepts:           s.Config.MaxConcepts,
			MaxMSPerChunk:         s.Config.MaxMSPerChunk,
			ContradictionsEnabled: s.Config.IngestContradictionsEnabled,
		}
		analysis := s.Analyzer.AnalyzeChunk(ctx, req.Text, limits)
		commit := ingest.CommitAnalysis(ctx, s.Stores, analysis, memoryID, req.FileID, req.ChunkIndex, []guard.Item{sourceItem}, ingest.CommitOptions{
			ContradictionsEnabled:   s.Config.IngestContradictionsEnabled,
			ImplicateRefreshEnabled: s.Config.IngestImplicateRefreshEnabled,
		})
		resp["truncated"] = analysis.Truncated
		resp["concept_entity_ids"] = commit.ConceptEntityIDs
		resp["frame_entity_ids"] = commit.FrameEntityIDs
		resp["edge_ids"] = commit.EdgeIDs
		resp["jobs_enqueued"] = commit.JobsEnqueued
		if len(commit.Errors) > 0 {
			resp["errors"] = commit.Errors
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDebugConfig(w http.ResponseWriter, r *http.Request) {
	view := s.Config.Redacted()
	respondJSON(w, http.StatusOK, map[string]any{
		"performance": map[string]any{
			"flags":      view.Flags,
			"budgets":    view.Budgets,
			"raw_config": view.Raw,
		},
		"resource_limits": map[string]any{
			"max_verbs":        s.Config.MaxVerbs,
			"max_frames":       s.Config.MaxFrames,
			"max_concepts":     s.Config.MaxConcepts,
			"max_ms_per_chunk": s.Config.MaxMSPerChunk,
		},
		"feature_flags": view.Flags,
		"config":        view,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDebugMetrics(w http.ResponseWriter, r *http.Request) {
	stat := func(name string) map[string]any {
		st := s.Metrics.GetHistogramStats(name, nil)
		return map[string]any{
			"count": st.Count, "p50": st.P50, "p95": st.P95, "p99": st.P99,
			"avg": st.Avg, "min": st.Min, "max": st.Max,
		}
	}
	errTotal := s.Metrics.GetCounter(metricRetrievalError, nil)
	queryTotal := s.Metrics.GetCounter(metricQueryTotal, nil)
	fallbackTotal := s.Metrics.GetCounter(metricPgvectorFallback, nil)
	var errRate, fallbackRate float64
	if queryTotal > 0 {
		errRate = float64(errTotal) / float64(queryTotal)
		fallbackRate = float64(fallbackTotal) / float64(queryTotal)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"performance": map[string]any{
			"retrieval":    stat(metricRetrievalMS),
			"graph_expand": stat(metricGraphExpandMS),
			"packing":      stat("packing_ms"),
			"reviewer":     stat(metricReviewerMS),
		},
		"counters": map[string]any{
			"query_total":             queryTotal,
			"retrieval_error_total":   errTotal,
			"pgvector_fallback_total": fallbackTotal,
		},
		"rates": map[string]any{
			"retrieval_error_rate":   errRate,
			"pgvector_fallback_rate": fallbackRate,
		},
	})
}

func (s *Server) handleDebugHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var warnings []string

	for _, snap := range s.Breakers.Snapshots() {
		if snap.State != "closed" {
			status = "degraded"
			warnings = append(warnings, "breaker "+snap.Name+" is "+string(snap.State))
		}
	}

	errTotal := s.Metrics.GetCounter(metricRetrievalError, nil)
	queryTotal := s.Metrics.GetCounter(metricQueryTotal, nil)
	if queryTotal > 0 && float64(errTotal)/float64(queryTotal) > 0.1 {
		status = "degraded"
		warnings = append(warnings, "retrieval error rate above 10%")
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"warnings":       warnings,
		"metrics_summary": map[string]any{
			"query_total":           queryTotal,
			"retrieval_error_total": errTotal,
		},
	})
}

// handleDebugBreakers is the one feature this repo supplements beyond
// spec.md's named endpoints: a direct view of breaker state for on-call
// triage without cross-referencing /debug/metrics counters by hand.
func (s *Server) handleDebugBreakers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"breakers": s.Breakers.Snapshots(),
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"error": msg})
}
