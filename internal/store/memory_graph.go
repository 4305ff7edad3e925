package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryGraph is an in-process GraphStore used by tests. Adapted from the
// teacher's internal/persistence/databases/memory_graph.go, generalized
// from generic node/edge maps to Entity/Edge with the same idempotency
// keys the Postgres backend enforces.
type MemoryGraph struct {
	mu       sync.RWMutex
	entities map[string]Entity
	byName   map[nameKey]string // (name,type) -> id
	edges    map[edgeKey]Edge   // (from,to,relation) -> edge
}

type nameKey struct {
	name string
	typ  EntityType
}

type edgeKey struct {
	from, to string
	relation Relation
}

func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities: make(map[string]Entity),
		byName:   make(map[nameKey]string),
		edges:    make(map[edgeKey]Edge),
	}
}

func (g *MemoryGraph) UpsertEntity(_ context.Context, e Entity) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := nameKey{name: e.Name, typ: e.Type}
	if existingID, ok := g.byName[key]; ok {
		existing := g.entities[existingID]
		existing.Slug = e.Slug
		existing.RoleViewLevel = e.RoleViewLevel
		existing.Metadata = e.Metadata
		g.entities[existingID] = existing
		return existingID, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	g.entities[e.ID] = e
	g.byName[key] = e.ID
	return e.ID, nil
}

func (g *MemoryGraph) UpsertEdge(_ context.Context, e Edge) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[e.FromID]; !ok {
		return "", fmt.Errorf("unknown edge endpoint: from_id=%s", e.FromID)
	}
	if _, ok := g.entities[e.ToID]; !ok {
		return "", fmt.Errorf("unknown edge endpoint: to_id=%s", e.ToID)
	}
	key := edgeKey{from: e.FromID, to: e.ToID, relation: e.Relation}
	if existing, ok := g.edges[key]; ok {
		e.ID = existing.ID
	} else if e.ID == "" {
		e.ID = uuid.NewString()
	}
	g.edges[key] = e
	return e.ID, nil
}

func (g *MemoryGraph) GetEntity(_ context.Context, id string) (Entity, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	return e, ok, nil
}

func (g *MemoryGraph) FindEntityByName(_ context.Context, name string, typ EntityType) (Entity, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[nameKey{name: name, typ: typ}]
	if !ok {
		return Entity{}, false, nil
	}
	return g.entities[id], true, nil
}

func (g *MemoryGraph) Neighbors(_ context.Context, id string, relations []Relation) ([]Entity, []Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	wanted := make(map[Relation]bool, len(relations))
	for _, r := range relations {
		wanted[r] = true
	}
	var entities []Entity
	var edges []Edge
	for key, edge := range g.edges {
		if key.from != id || !wanted[key.relation] {
			continue
		}
		entity, ok := g.entities[key.to]
		if !ok {
			// Unknown endpoint: skip without error, per spec.md §4.J.
			continue
		}
		entities = append(entities, entity)
		edges = append(edges, edge)
	}
	return entities, edges, nil
}
