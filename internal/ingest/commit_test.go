package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeldicarlantonio/ragd/internal/guard"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

func testStores() Stores {
	return Stores{
		Graph:  store.NewMemoryGraph(),
		Memory: store.NewInMemoryMemoryStore(),
		Jobs:   store.NewInMemoryJobStore(),
	}
}

func TestCommitAnalysisUpsertsConceptsFramesAndEdges(t *testing.T) {
	ctx := context.Background()
	s := testStores()
	require.NoError(t, s.Memory.Put(ctx, store.Memory{ID: "mem-1", Text: "text"}))

	analysis := AnalysisResult{
		Concepts: []Concept{{Name: "photosynthesis"}, {Name: "growth"}},
		Frames: []Frame{
			{ID: "f0", Predicates: []Predicate{{Verb: "causes", Subject: "photosynthesis", Object: "growth", Polarity: "positive"}}},
		},
	}

	res := CommitAnalysis(ctx, s, analysis, "mem-1", "file-1", 0, nil, CommitOptions{})
	require.Empty(t, res.Errors)
	require.Len(t, res.ConceptEntityIDs, 2)
	require.Len(t, res.FrameEntityIDs, 1)
	require.NotEmpty(t, res.EdgeIDs)
}

func TestCommitAnalysisIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStores()
	require.NoError(t, s.Memory.Put(ctx, store.Memory{ID: "mem-1"}))

	analysis := AnalysisResult{
		Concepts: []Concept{{Name: "photosynthesis"}},
		Frames: []Frame{
			{ID: "f0", Predicates: []Predicate{{Verb: "causes", Subject: "photosynthesis"}}},
		},
	}

	first := CommitAnalysis(ctx, s, analysis, "mem-1", "file-1", 0, nil, CommitOptions{})
	second := CommitAnalysis(ctx, s, analysis, "mem-1", "file-1", 0, nil, CommitOptions{})

	require.Equal(t, first.ConceptEntityIDs, second.ConceptEntityIDs)
	require.Equal(t, first.FrameEntityIDs, second.FrameEntityIDs)
}

func TestCommitAnalysisFailsFastOnExternalSourceItem(t *testing.T) {
	ctx := context.Background()
	s := testStores()

	sourceItems := []guard.Item{{ID: "x", Provenance: map[string]any{"url": "https://evil.example.com"}}}
	res := CommitAnalysis(ctx, s, AnalysisResult{Concepts: []Concept{{Name: "a"}}}, "mem-1", "file-1", 0, sourceItems, CommitOptions{})

	require.NotEmpty(t, res.Errors)
	require.Empty(t, res.ConceptEntityIDs, "commit must not proceed once the guard blocks")
}

func TestCommitAnalysisAppendsContradictionsWhenEnabled(t *testing.T) {
	ctx := context.Background()
	s := testStores()
	require.NoError(t, s.Memory.Put(ctx, store.Memory{ID: "mem-1"}))

	analysis := AnalysisResult{
		Contradictions: []DetectedContradiction{{Subject: "x", FrameAID: "f0", FrameBID: "f1"}},
	}
	res := CommitAnalysis(ctx, s, analysis, "mem-1", "file-1", 0, nil, CommitOptions{ContradictionsEnabled: true})
	require.Empty(t, res.Errors)

	m, _, err := s.Memory.Get(ctx, "mem-1")
	require.NoError(t, err)
	require.Len(t, m.Contradictions, 1)
}

func TestCommitAnalysisEnqueuesRefreshJobsForTouchedEntities(t *testing.T) {
	ctx := context.Background()
	s := testStores()
	require.NoError(t, s.Memory.Put(ctx, store.Memory{ID: "mem-1"}))

	analysis := AnalysisResult{
		Concepts: []Concept{{Name: "a"}, {Name: "b"}},
		Frames: []Frame{
			{ID: "f0", Predicates: []Predicate{{Verb: "v", Subject: "a", Object: "b", Polarity: "positive"}}},
		},
	}
	res := CommitAnalysis(ctx, s, analysis, "mem-1", "file-1", 0, nil, CommitOptions{ImplicateRefreshEnabled: true})
	require.Empty(t, res.Errors)
	require.Greater(t, res.JobsEnqueued, 0)
}
