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

// MemoryStore is the store of record for Memory rows — the persisted shape
// spec.md §6 calls "memory(id, text, type, role_view_level, embedding,
// contradictions_jsonish, provenance, created_at)". Adapted from the
// teacher's internal/persistence/databases postgres_search.go "documents"
// table pattern, generalized from full-text-search rows to the domain
// Memory type (contradictions/provenance/role_view_level).
type MemoryStore interface {
	Put(ctx context.Context, m Memory) error
	Get(ctx context.Context, id string) (Memory, bool, error)
	AppendContradiction(ctx context.Context, id string, c Contradiction) error
}

// PostgresMemoryStore is the Postgres-backed MemoryStore.
type PostgresMemoryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMemoryStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresMemoryStore, error) {
	stmt := `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	role_view_level INT NOT NULL DEFAULT 0,
	provenance JSONB NOT NULL DEFAULT '{}'::jsonb,
	contradictions JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("ensure memories schema: %w", err)
	}
	return &PostgresMemoryStore{pool: pool}, nil
}

func (s *PostgresMemoryStore) Put(ctx context.Context, m Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Provenance == nil {
		m.Provenance = map[string]any{}
	}
	prov, err := json.Marshal(m.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	contra, err := json.Marshal(m.Contradictions)
	if err != nil {
		return fmt.Errorf("marshal contradictions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO memories(id, text, title, type, role_view_level, provenance, contradictions)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  text=EXCLUDED.text, title=EXCLUDED.title, type=EXCLUDED.type,
  role_view_level=EXCLUDED.role_view_level, provenance=EXCLUDED.provenance,
  contradictions=EXCLUDED.contradictions
`, m.ID, m.Text, m.Title, m.Type, m.RoleViewLevel, prov, contra)
	return err
}

func (s *PostgresMemoryStore) Get(ctx context.Context, id string) (Memory, bool, error) {
	var m Memory
	var prov, contra []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, text, title, type, role_view_level, provenance, contradictions, created_at
FROM memories WHERE id=$1
`, id).Scan(&m.ID, &m.Text, &m.Title, &m.Type, &m.RoleViewLevel, &prov, &contra, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Memory{}, false, nil
	}
	if err != nil {
		return Memory{}, false, err
	}
	_ = json.Unmarshal(prov, &m.Provenance)
	_ = json.Unmarshal(contra, &m.Contradictions)
	return m, true, nil
}

// AppendContradiction is the only mutation a persisted memory may undergo
// besides initial creation, per spec.md §3's Memory invariant.
func (s *PostgresMemoryStore) AppendContradiction(ctx context.Context, id string, c Contradiction) error {
	cj, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contradiction: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
UPDATE memories SET contradictions = contradictions || jsonb_build_array($2::jsonb) WHERE id=$1
`, id, cj)
	return err
}
