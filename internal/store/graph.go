package store

import "context"

// GraphStore is the entity/edge store of record (Postgres), used by the
// commit engine (idempotent upsert) and the graph expander (neighbor
// lookup). Adapted from the teacher's internal/persistence/databases
// GraphDB interface, generalized from generic nodes/edges to Entity/Edge.
type GraphStore interface {
	// UpsertEntity inserts or updates e by its idempotency key (name, type).
	// Returns the persisted entity's ID (existing ID on update, new ID on
	// insert).
	UpsertEntity(ctx context.Context, e Entity) (string, error)
	// UpsertEdge inserts or updates by the (FromID, ToID, Relation) triple
	// key. Returns an error if either endpoint does not exist.
	UpsertEdge(ctx context.Context, e Edge) (string, error)
	// Neighbors returns entities reachable from id via an outgoing edge of
	// one of the given relations. Unknown endpoints are skipped, not erred.
	Neighbors(ctx context.Context, id string, relations []Relation) ([]Entity, []Edge, error)
	GetEntity(ctx context.Context, id string) (Entity, bool, error)
	FindEntityByName(ctx context.Context, name string, typ EntityType) (Entity, bool, error)
}
