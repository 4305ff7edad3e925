package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoJobAvailable is returned by Claim when no pending job exists.
var ErrNoJobAvailable = errors.New("no job available")

// JobStore is the authoritative job queue for the refresh worker
// (component O). Kafka is only a wake-up notification channel; every claim
// and completion must be atomic here so a job is never processed twice.
type JobStore interface {
	Enqueue(ctx context.Context, kind string, payload map[string]any) (string, error)
	// Claim atomically selects one pending job of kind, marks it running,
	// and returns it. Returns ErrNoJobAvailable if none is pending.
	Claim(ctx context.Context, kind string) (Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, reason string) error
}

// PostgresJobStore is the Postgres-backed JobStore.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresJobStore, error) {
	stmt := `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error TEXT NOT NULL DEFAULT ''
)`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("ensure jobs schema: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS jobs_kind_status ON jobs(kind, status)`); err != nil {
		return nil, fmt.Errorf("ensure jobs index: %w", err)
	}
	return &PostgresJobStore{pool: pool}, nil
}

func (s *PostgresJobStore) Enqueue(ctx context.Context, kind string, payload map[string]any) (string, error) {
	id := uuid.NewString()
	pj, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO jobs(id, kind, payload) VALUES($1,$2,$3)`, id, kind, pj)
	return id, err
}

// Claim uses SELECT ... FOR UPDATE SKIP LOCKED inside a transaction so
// concurrent refresh-worker replicas never claim the same row twice.
func (s *PostgresJobStore) Claim(ctx context.Context, kind string) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, err
	}
	defer tx.Rollback(ctx)

	var job Job
	var payload []byte
	err = tx.QueryRow(ctx, `
SELECT id, kind, payload, status, created_at
FROM jobs
WHERE kind=$1 AND status='pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT 1
`, kind).Scan(&job.ID, &job.Kind, &payload, &job.Status, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNoJobAvailable
	}
	if err != nil {
		return Job{}, err
	}
	_ = json.Unmarshal(payload, &job.Payload)

	now := time.Now()
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status='running', claimed_at=$2 WHERE id=$1`, job.ID, now); err != nil {
		return Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, err
	}
	job.Status = JobRunning
	job.ClaimedAt = &now
	return job, nil
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status='completed', completed_at=now() WHERE id=$1`, id)
	return err
}

func (s *PostgresJobStore) Fail(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status='failed', completed_at=now(), error=$2 WHERE id=$1`, id, reason)
	return err
}
