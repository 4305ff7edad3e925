package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresGraph is the Postgres-backed graph store of record. Adapted from
// the teacher's internal/persistence/databases/postgres_graph.go, which
// modeled a generic nodes/edges pair; here the tables carry the domain's
// entity/edge shape directly, with the idempotency keys spec.md §3
// requires: unique (name, type) on entities, unique (from_id, to_id,
// relation) on edges.
type PostgresGraph struct {
	pool *pgxpool.Pool
}

// NewPostgresGraph ensures the entity/edge tables (and their idempotency
// constraints) exist and returns a store bound to pool.
func NewPostgresGraph(ctx context.Context, pool *pgxpool.Pool) (*PostgresGraph, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			slug TEXT NOT NULL,
			role_view_level INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			UNIQUE(name, type)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_edges (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL REFERENCES entities(id),
			to_id TEXT NOT NULL REFERENCES entities(id),
			relation TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL DEFAULT 1,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			UNIQUE(from_id, to_id, relation)
		)`,
		`CREATE INDEX IF NOT EXISTS entity_edges_from_rel ON entity_edges(from_id, relation)`,
		`CREATE INDEX IF NOT EXISTS entity_edges_to_rel ON entity_edges(to_id, relation)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return &PostgresGraph{pool: pool}, nil
}

func (g *PostgresGraph) UpsertEntity(ctx context.Context, e Entity) (string, error) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	md, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal entity metadata: %w", err)
	}
	var id string
	err = g.pool.QueryRow(ctx, `
INSERT INTO entities(id, name, type, slug, role_view_level, metadata)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (name, type) DO UPDATE SET
  slug=EXCLUDED.slug, role_view_level=EXCLUDED.role_view_level, metadata=EXCLUDED.metadata
RETURNING id
`, e.ID, e.Name, string(e.Type), e.Slug, e.RoleViewLevel, md).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert entity: %w", err)
	}
	return id, nil
}

func (g *PostgresGraph) UpsertEdge(ctx context.Context, e Edge) (string, error) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	md, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal edge metadata: %w", err)
	}
	var id string
	err = g.pool.QueryRow(ctx, `
INSERT INTO entity_edges(id, from_id, to_id, relation, weight, metadata)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (from_id, to_id, relation) DO UPDATE SET
  weight=EXCLUDED.weight, metadata=EXCLUDED.metadata
RETURNING id
`, e.ID, e.FromID, e.ToID, string(e.Relation), e.Weight, md).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert edge (endpoint may not exist): %w", err)
	}
	return id, nil
}

func (g *PostgresGraph) GetEntity(ctx context.Context, id string) (Entity, bool, error) {
	var e Entity
	var typ string
	var md []byte
	err := g.pool.QueryRow(ctx, `SELECT id, name, type, slug, role_view_level, metadata FROM entities WHERE id=$1`, id).
		Scan(&e.ID, &e.Name, &typ, &e.Slug, &e.RoleViewLevel, &md)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, err
	}
	e.Type = EntityType(typ)
	_ = json.Unmarshal(md, &e.Metadata)
	return e, true, nil
}

func (g *PostgresGraph) FindEntityByName(ctx context.Context, name string, typ EntityType) (Entity, bool, error) {
	var e Entity
	var md []byte
	var t string
	err := g.pool.QueryRow(ctx, `SELECT id, name, type, slug, role_view_level, metadata FROM entities WHERE name=$1 AND type=$2`, name, string(typ)).
		Scan(&e.ID, &e.Name, &t, &e.Slug, &e.RoleViewLevel, &md)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, err
	}
	e.Type = EntityType(t)
	_ = json.Unmarshal(md, &e.Metadata)
	return e, true, nil
}

// Neighbors returns the entities one hop from id over an outgoing edge
// whose relation is in relations. Edges whose target no longer exists are
// skipped rather than erroring, per spec.md §4.J.
func (g *PostgresGraph) Neighbors(ctx context.Context, id string, relations []Relation) ([]Entity, []Edge, error) {
	if len(relations) == 0 {
		return nil, nil, nil
	}
	rels := make([]string, len(relations))
	for i, r := range relations {
		rels[i] = string(r)
	}
	rows, err := g.pool.Query(ctx, `
SELECT e.id, e.from_id, e.to_id, e.relation, e.weight, e.metadata,
       n.id, n.name, n.type, n.slug, n.role_view_level, n.metadata
FROM entity_edges e
JOIN entities n ON n.id = e.to_id
WHERE e.from_id = $1 AND e.relation = ANY($2)
`, id, rels)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var entities []Entity
	var edges []Edge
	for rows.Next() {
		var edge Edge
		var entity Entity
		var relStr, typeStr string
		var edgeMD, entityMD []byte
		if err := rows.Scan(&edge.ID, &edge.FromID, &edge.ToID, &relStr, &edge.Weight, &edgeMD,
			&entity.ID, &entity.Name, &typeStr, &entity.Slug, &entity.RoleViewLevel, &entityMD); err != nil {
			return nil, nil, err
		}
		edge.Relation = Relation(relStr)
		_ = json.Unmarshal(edgeMD, &edge.Metadata)
		entity.Type = EntityType(typeStr)
		_ = json.Unmarshal(entityMD, &entity.Metadata)
		edges = append(edges, edge)
		entities = append(entities, entity)
	}
	return entities, edges, rows.Err()
}
