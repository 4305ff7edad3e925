package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rafaeldicarlantonio/ragd/internal/guard"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// CommitResult is the return value of CommitAnalysis, per spec.md §4.N
// step 7.
type CommitResult struct {
	ConceptEntityIDs []string
	FrameEntityIDs   []string
	EdgeIDs          []string
	JobsEnqueued     int
	Errors           []string
}

// Stores bundles the persistence dependencies CommitAnalysis needs.
type Stores struct {
	Graph  store.GraphStore
	Memory store.MemoryStore
	Jobs   store.JobStore
}

// CommitOptions carries the feature flags CommitAnalysis consults.
type CommitOptions struct {
	ContradictionsEnabled   bool
	ImplicateRefreshEnabled bool
}

// CommitAnalysis implements commit_analysis, in the exact order of
// operations spec.md §4.N lists. It never persists anything from
// sourceItems that the external-persist guard (component G) flags.
func CommitAnalysis(ctx context.Context, s Stores, analysis AnalysisResult, memoryID, fileID string, chunkIdx int, sourceItems []guard.Item, opts CommitOptions) CommitResult {
	var result CommitResult

	// Step 1: guard on source_items, fail fast on any external marker.
	if len(sourceItems) > 0 {
		if _, err := guard.ForbidExternalPersistence(sourceItems, "ingest_source_item", true); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result
		}
	}

	// Step 2: per-concept stable-slug upsert.
	conceptIDs := make(map[string]string, len(analysis.Concepts))
	for _, c := range analysis.Concepts {
		slug := "concept:" + slugify(c.Name)
		id, err := s.Graph.UpsertEntity(ctx, store.Entity{Name: c.Name, Type: store.EntityConcept, Slug: slug})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("concept %q: %v", c.Name, err))
			continue
		}
		conceptIDs[c.Name] = id
		result.ConceptEntityIDs = append(result.ConceptEntityIDs, id)
	}

	// Step 3: per-frame stable name, idempotent by name.
	frameIDs := make(map[string]string, len(analysis.Frames))
	for _, f := range analysis.Frames {
		name := fmt.Sprintf("frame:%s:%d:%s", fileID, chunkIdx, f.ID)
		id, err := s.Graph.UpsertEntity(ctx, store.Entity{Name: name, Type: store.EntityFrame})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("frame %q: %v", name, err))
			continue
		}
		frameIDs[f.ID] = id
		result.FrameEntityIDs = append(result.FrameEntityIDs, id)
	}

	// Step 4: map analysis outputs to relations and upsert edges,
	// idempotent by (from_id, to_id, relation).
	touchedEntities := map[string]struct{}{}
	for _, f := range analysis.Frames {
		frameID, ok := frameIDs[f.ID]
		if !ok {
			continue
		}
		for _, p := range f.Predicates {
			conceptID, ok := conceptIDs[p.Subject]
			if !ok {
				continue
			}
			// frames -> concepts: evidence_of
			edgeID, err := s.Graph.UpsertEdge(ctx, store.Edge{FromID: frameID, ToID: conceptID, Relation: store.RelationEvidenceOf, Weight: 1})
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.EdgeIDs = append(result.EdgeIDs, edgeID)
			touchedEntities[frameID] = struct{}{}
			touchedEntities[conceptID] = struct{}{}

			// positive/negative predicate links: supports / contradicts
			relation := store.RelationSupports
			if p.Polarity == "negative" {
				relation = store.RelationContradicts
			}
			if objConceptID, ok := conceptIDs[p.Object]; ok {
				edgeID, err := s.Graph.UpsertEdge(ctx, store.Edge{FromID: conceptID, ToID: objConceptID, Relation: relation, Weight: 1})
				if err != nil {
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.EdgeIDs = append(result.EdgeIDs, edgeID)
				touchedEntities[objConceptID] = struct{}{}
			}
		}
	}

	// Step 5: append contradictions with set-union-by-triple semantics.
	if opts.ContradictionsEnabled && len(analysis.Contradictions) > 0 && s.Memory != nil {
		for _, c := range analysis.Contradictions {
			err := s.Memory.AppendContradiction(ctx, memoryID, store.Contradiction{
				Subject:      c.Subject,
				ClaimASource: c.FrameAID,
				ClaimBSource: c.FrameBID,
			})
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	// Step 6: enqueue one implicate_refresh job per distinct touched entity.
	if opts.ImplicateRefreshEnabled && s.Jobs != nil {
		ids := make([]string, 0, len(touchedEntities))
		for id := range touchedEntities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := s.Jobs.Enqueue(ctx, store.JobKindImplicateRefresh, map[string]any{"entity_id": id}); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.JobsEnqueued++
		}
	}

	return result
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
