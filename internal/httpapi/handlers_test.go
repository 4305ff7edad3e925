package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeldicarlantonio/ragd/internal/config"
	"github.com/rafaeldicarlantonio/ragd/internal/ingest"
	"github.com/rafaeldicarlantonio/ragd/internal/obs"
	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryVector, *store.MemoryVector) {
	t.Helper()
	explicate := store.NewMemoryVector()
	implicate := store.NewMemoryVector()
	graph := store.NewMemoryGraph()
	memStore := store.NewInMemoryMemoryStore()
	jobStore := store.NewInMemoryJobStore()
	metrics := obs.NewRegistry()
	breakers := resilience.NewRegistry(metrics, resilience.Options{})
	health := resilience.NewHealthCache(resilience.DefaultHealthTTL)

	selector := retrieval.NewSelector(explicate, implicate, nil, breakers, false, 450)

	s := NewServer(&Server{
		Config: config.Config{
			GraphTimeoutMS: 150,
			MaxVerbs:       20,
			MaxFrames:      10,
			MaxConcepts:    10,
			MaxMSPerChunk:  40,
		},
		Metrics:  metrics,
		Breakers: breakers,
		Health:   health,
		Selector: selector,
		Stores:   ingest.Stores{Graph: graph, Memory: memStore, Jobs: jobStore},
		Embed: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{0.1, 0.2, 0.3}, nil
		},
	})
	return s, explicate, implicate
}

func TestHandleQueryReturnsEnvelope(t *testing.T) {
	s, explicate, _ := newTestServer(t)
	require.NoError(t, explicate.Upsert(context.Background(), "doc1", []float32{0.1, 0.2, 0.3}, map[string]string{"source": "doc1"}))

	body, _ := json.Marshal(queryRequest{Query: "what happened", Roles: []string{"pro"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "pro", out["role_applied"])
	require.Contains(t, out, "context")
	require.Contains(t, out, "timings")
}

func TestHandleQueryRejectsEmptyQuery(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, _ := json.Marshal(queryRequest{Query: ""})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleQuery(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryGeneralRoleHidesLevelOneProvenance(t *testing.T) {
	s, explicate, _ := newTestServer(t)
	require.NoError(t, explicate.Upsert(context.Background(), "doc1", []float32{0.1, 0.2, 0.3}, map[string]string{"source": "doc1", "role_view_level": "1"}))

	body, _ := json.Marshal(queryRequest{Query: "hello", Roles: []string{"general"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	ctxItems, _ := out["context"].([]any)
	require.Empty(t, ctxItems, "level-1 item must be filtered for a general caller")
}

func TestHandleIngestPersistsMemory(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, _ := json.Marshal(ingestRequest{FileID: "file1", Text: "the sky is blue", Roles: []string{"pro"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleIngest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["memory_id"])
}

func TestHandleIngestBlocksExternalPersistence(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, _ := json.Marshal(ingestRequest{
		FileID: "file1", Text: "content", Roles: []string{"pro"},
		Provenance: map[string]any{"url": "https://example.com/leaked"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleIngest(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleDebugBreakersReportsSnapshots(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.Breakers.Get("qdrant_explicate")

	req := httptest.NewRequest(http.MethodGet, "/debug/breakers", nil)
	rec := httptest.NewRecorder()

	s.handleDebugBreakers(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	breakers, _ := out["breakers"].([]any)
	require.NotEmpty(t, breakers)
}

func TestHandleDebugHealthReportsHealthyByDefault(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/health", nil)
	rec := httptest.NewRecorder()

	s.handleDebugHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "healthy", out["status"])
}
