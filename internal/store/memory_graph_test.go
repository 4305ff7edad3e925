package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGraphUpsertEntityIdempotent(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()

	id1, err := g.UpsertEntity(ctx, Entity{Name: "photosynthesis", Type: EntityConcept, Slug: "photosynthesis"})
	require.NoError(t, err)

	id2, err := g.UpsertEntity(ctx, Entity{Name: "photosynthesis", Type: EntityConcept, Slug: "photosynthesis-v2"})
	require.NoError(t, err)

	require.Equal(t, id1, id2, "unique-by-(name,type) upsert must reuse the same ID")

	e, ok, err := g.GetEntity(ctx, id1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "photosynthesis-v2", e.Slug, "second upsert must update fields")
}

func TestMemoryGraphUpsertEdgeRequiresKnownEndpoints(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()
	_, err := g.UpsertEdge(ctx, Edge{FromID: "missing-a", ToID: "missing-b", Relation: RelationEvidenceOf})
	require.Error(t, err)
}

func TestMemoryGraphUpsertEdgeIdempotentByTriple(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()
	a, _ := g.UpsertEntity(ctx, Entity{Name: "a", Type: EntityConcept})
	b, _ := g.UpsertEntity(ctx, Entity{Name: "b", Type: EntityConcept})

	id1, err := g.UpsertEdge(ctx, Edge{FromID: a, ToID: b, Relation: RelationSupports, Weight: 1})
	require.NoError(t, err)
	id2, err := g.UpsertEdge(ctx, Edge{FromID: a, ToID: b, Relation: RelationSupports, Weight: 2})
	require.NoError(t, err)
	require.Equal(t, id1, id2, "unique-by-triple upsert must reuse the same edge ID")

	entities, edges, err := g.Neighbors(ctx, a, []Relation{RelationSupports})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Len(t, edges, 1)
	require.Equal(t, float64(2), edges[0].Weight, "second upsert must update the edge weight")
}

func TestMemoryGraphNeighborsFiltersByRelation(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()
	a, _ := g.UpsertEntity(ctx, Entity{Name: "a", Type: EntityConcept})
	b, _ := g.UpsertEntity(ctx, Entity{Name: "b", Type: EntityConcept})
	c, _ := g.UpsertEntity(ctx, Entity{Name: "c", Type: EntityConcept})
	_, err := g.UpsertEdge(ctx, Edge{FromID: a, ToID: b, Relation: RelationEvidenceOf})
	require.NoError(t, err)
	_, err = g.UpsertEdge(ctx, Edge{FromID: a, ToID: c, Relation: RelationContradicts})
	require.NoError(t, err)

	entities, edges, err := g.Neighbors(ctx, a, []Relation{RelationEvidenceOf})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Len(t, edges, 1)
	require.Equal(t, "b", entities[0].Name)
}

func TestMemoryGraphFindEntityByName(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()
	_, err := g.UpsertEntity(ctx, Entity{Name: "water cycle", Type: EntityFrame})
	require.NoError(t, err)

	e, ok, err := g.FindEntityByName(ctx, "water cycle", EntityFrame)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "water cycle", e.Name)

	_, ok, err = g.FindEntityByName(ctx, "water cycle", EntityConcept)
	require.NoError(t, err)
	require.False(t, ok, "type is part of the idempotency key")
}
