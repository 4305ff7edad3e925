package retrieval

import (
	"context"
	"time"

	"github.com/rafaeldicarlantonio/ragd/internal/rbac"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

// expandableRelations are the only edge relations the graph expander
// traverses, per spec.md §4.J.
var expandableRelations = []store.Relation{store.RelationEvidenceOf, store.RelationSupports, store.RelationContradicts}

// GraphExpandOptions controls one ExpandWithGraph call, generalized from
// the teacher's GraphExpandOptions (internal/rag/retrieve/graph_expand.go)
// for the concept/frame entity graph instead of a doc/chunk graph.
type GraphExpandOptions struct {
	BudgetMS int
	Roles    []string
}

// GraphDiagnostics reports how much expansion happened, mirroring the
// teacher's GraphDiagnostics shape.
type GraphDiagnostics struct {
	Expanded int
	Duration time.Duration
}

// Contradiction is a structured record of a discrepancy surfaced while
// expanding, per spec.md §4.J's closing sentence.
type Contradiction struct {
	Subject      string
	ClaimASource string
	ClaimBSource string
}

// ExpandWithGraph performs a one-hop, budget-bounded breadth-first
// expansion of the merged evidence list through the entity graph. Items
// whose Metadata carries an "entity_id" are treated as implicate-layer
// hits with an associated concept/frame entity; items without one are
// passed through untouched. Edges whose neighbor entity no longer exists
// are skipped without error (store.GraphStore.Neighbors already enforces
// this).
func ExpandWithGraph(ctx context.Context, g store.GraphStore, items []Item, opt GraphExpandOptions) ([]Item, GraphDiagnostics, []Contradiction) {
	diag := GraphDiagnostics{}
	if g == nil || len(items) == 0 {
		return items, diag, nil
	}

	budget := time.Duration(opt.BudgetMS) * time.Millisecond
	if budget <= 0 {
		budget = 400 * time.Millisecond
	}
	deadline := time.Now().Add(budget)

	byID := make(map[string]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	level := rbac.MaxLevel(opt.Roles)

	out := make([]Item, len(items))
	copy(out, items)

	var contradictions []Contradiction
	start := time.Now()

	for _, seed := range items {
		if time.Now().After(deadline) {
			break
		}
		entityID, ok := seed.Metadata["entity_id"]
		if !ok || entityID == "" {
			continue
		}

		entities, edges, err := g.Neighbors(ctx, entityID, expandableRelations)
		if err != nil {
			continue
		}

		entityByID := make(map[string]store.Entity, len(entities))
		for _, e := range entities {
			entityByID[e.ID] = e
		}

		for _, edge := range edges {
			if time.Now().After(deadline) {
				break
			}
			neighborEntity, ok := entityByID[edge.ToID]
			if !ok {
				// unknown endpoint: skip without error
				continue
			}
			if neighborEntity.RoleViewLevel > level {
				continue
			}
			neighborItemID := "entity:" + neighborEntity.ID
			if _, exists := byID[neighborItemID]; exists {
				continue
			}

			decayed := seed.Score - (seed.Score * 0.25)
			neighborItem := Item{
				ID:            neighborItemID,
				Layer:         seed.Layer,
				Score:         decayed,
				Text:          neighborEntity.Name,
				RoleViewLevel: neighborEntity.RoleViewLevel,
				ViaGraph:      true,
				Metadata: map[string]string{
					"expanded_from": seed.ID,
					"entity_id":     neighborEntity.ID,
					"relation":      string(edge.Relation),
				},
			}
			byID[neighborItemID] = neighborItem
			out = append(out, neighborItem)
			diag.Expanded++

			if edge.Relation == store.RelationContradicts {
				contradictions = append(contradictions, Contradiction{
					Subject:      neighborEntity.Name,
					ClaimASource: seed.ID,
					ClaimBSource: neighborItemID,
				})
			}
		}
	}

	diag.Duration = time.Since(start)
	return out, diag, contradictions
}
