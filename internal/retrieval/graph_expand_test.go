package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

func TestExpandWithGraphAddsNeighborsViaGraph(t *testing.T) {
	g := store.NewMemoryGraph()
	ctx := context.Background()
	concept, err := g.UpsertEntity(ctx, store.Entity{Name: "photosynthesis", Type: store.EntityConcept})
	require.NoError(t, err)
	frame, err := g.UpsertEntity(ctx, store.Entity{Name: "sunlight-capture", Type: store.EntityFrame})
	require.NoError(t, err)
	_, err = g.UpsertEdge(ctx, store.Edge{FromID: concept, ToID: frame, Relation: store.RelationEvidenceOf})
	require.NoError(t, err)

	items := []Item{{ID: "seed", Score: 1.0, Metadata: map[string]string{"entity_id": concept}}}
	out, diag, contradictions := ExpandWithGraph(ctx, g, items, GraphExpandOptions{BudgetMS: 100, Roles: []string{"general"}})

	require.Equal(t, 1, diag.Expanded)
	require.Len(t, out, 2)
	require.True(t, out[1].ViaGraph)
	require.Less(t, out[1].Score, out[0].Score, "expanded neighbor must carry a score decay")
	require.Empty(t, contradictions)
}

func TestExpandWithGraphEntityWithoutNeighborsAddsNothing(t *testing.T) {
	g := store.NewMemoryGraph()
	ctx := context.Background()
	concept, err := g.UpsertEntity(ctx, store.Entity{Name: "a", Type: store.EntityConcept})
	require.NoError(t, err)

	items := []Item{{ID: "seed", Score: 1.0, Metadata: map[string]string{"entity_id": concept}}}
	out, diag, _ := ExpandWithGraph(ctx, g, items, GraphExpandOptions{BudgetMS: 100})
	require.Equal(t, 0, diag.Expanded)
	require.Len(t, out, 1, "no neighbors to add, and no error should surface")
}

func TestExpandWithGraphRecordsContradictions(t *testing.T) {
	g := store.NewMemoryGraph()
	ctx := context.Background()
	a, _ := g.UpsertEntity(ctx, store.Entity{Name: "claim-a", Type: store.EntityConcept})
	b, _ := g.UpsertEntity(ctx, store.Entity{Name: "claim-b", Type: store.EntityConcept})
	_, err := g.UpsertEdge(ctx, store.Edge{FromID: a, ToID: b, Relation: store.RelationContradicts})
	require.NoError(t, err)

	items := []Item{{ID: "seed", Score: 1.0, Metadata: map[string]string{"entity_id": a}}}
	_, _, contradictions := ExpandWithGraph(ctx, g, items, GraphExpandOptions{BudgetMS: 100})
	require.Len(t, contradictions, 1)
	require.Equal(t, "claim-b", contradictions[0].Subject)
}

func TestExpandWithGraphPassesThroughItemsWithoutEntityID(t *testing.T) {
	items := []Item{{ID: "plain", Score: 1.0}}
	out, diag, _ := ExpandWithGraph(context.Background(), store.NewMemoryGraph(), items, GraphExpandOptions{BudgetMS: 100})
	require.Len(t, out, 1)
	require.Equal(t, 0, diag.Expanded)
}

func TestExpandWithGraphFiltersByRoleVisibility(t *testing.T) {
	g := store.NewMemoryGraph()
	ctx := context.Background()
	a, _ := g.UpsertEntity(ctx, store.Entity{Name: "a", Type: store.EntityConcept})
	restricted, _ := g.UpsertEntity(ctx, store.Entity{Name: "restricted", Type: store.EntityConcept, RoleViewLevel: 2})
	_, err := g.UpsertEdge(ctx, store.Edge{FromID: a, ToID: restricted, Relation: store.RelationSupports})
	require.NoError(t, err)

	items := []Item{{ID: "seed", Score: 1.0, Metadata: map[string]string{"entity_id": a}}}
	out, diag, _ := ExpandWithGraph(ctx, g, items, GraphExpandOptions{BudgetMS: 100, Roles: []string{"general"}})
	require.Equal(t, 0, diag.Expanded)
	require.Len(t, out, 1)
}
