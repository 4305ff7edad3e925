// Package store holds the persistence interfaces and backends for the four
// SPEC_FULL.md entities — Memory, Concept/Frame entity, Entity edge, Job —
// adapted from the teacher's internal/persistence/databases package, which
// modeled a generic document/embedding/graph/chat store instead.
package store

import "time"

// Memory is a chunk of ingested text, one of the core persistent types.
type Memory struct {
	ID             string
	Text           string
	Title          string
	CreatedAt      time.Time
	Type           string
	RoleViewLevel  int
	Provenance     map[string]any
	Contradictions []Contradiction
	Embedding      []float32
}

// Contradiction annotates two conflicting sources discovered during ingest
// analysis or graph expansion.
type Contradiction struct {
	Subject      string
	ClaimASource string
	ClaimBSource string
}

// EntityType distinguishes the two kinds of implicate-layer entity.
type EntityType string

const (
	EntityConcept EntityType = "concept"
	EntityFrame   EntityType = "frame"
)

// Entity is a concept or frame node in the implicate graph. Unique by
// (canonical name, type) for idempotent upsert.
type Entity struct {
	ID            string
	Name          string
	Type          EntityType
	Slug          string
	RoleViewLevel int
	Metadata      map[string]any
}

// Relation is one of the three closed edge kinds the graph expander walks.
type Relation string

const (
	RelationEvidenceOf  Relation = "evidence_of"
	RelationSupports    Relation = "supports"
	RelationContradicts Relation = "contradicts"
)

// Edge connects two entities. Unique by (FromID, ToID, Relation) — at most
// one edge per triple key.
type Edge struct {
	ID       string
	FromID   string
	ToID     string
	Relation Relation
	Weight   float64
	Metadata map[string]any
}

// JobStatus is one of the refresh-worker job lifecycle states.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobKind names the one background job kind spec.md §4.O defines.
const JobKindImplicateRefresh = "implicate_refresh"

// Job is one unit of background work, claimed and completed atomically by
// the refresh worker.
type Job struct {
	ID          string
	Kind        string
	Payload     map[string]any
	Status      JobStatus
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}
