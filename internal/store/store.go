// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memkeeper/internal/model"
)

var (
	// ErrNotFound is returned when a record is absent or soft-deleted.
	ErrNotFound = goerr.New("memory not found")
	// ErrInvalidRelation is returned when a relation references a missing
	// or inactive endpoint, or carries an invalid kind or weight.
	ErrInvalidRelation = goerr.New("invalid relation")
	// ErrInvalidRecord is returned for malformed write payloads.
	ErrInvalidRecord = goerr.New("invalid record")
	// ErrRevisionConflict is returned when a revision is appended on top of
	// a stale or soft-deleted base.
	ErrRevisionConflict = goerr.New("revision conflict")
)

// RelationInput describes an outbound edge supplied with a write.
type RelationInput struct {
	TargetID string  `json:"target_id"`
	Kind     string  `json:"kind,omitempty"`
	Weight   float64 `json:"weight,omitempty"`
}

// WriteParams holds parameters for storing a memory.
type WriteParams struct {
	ID         string // empty generates a new id
	Content    string
	Summary    string
	Tags       []string
	MemoryType model.MemoryType // empty means fact
	Importance *float64         // nil resolves from the importance profile
	IsIdentity bool
	Source     string
	Relations  []RelationInput
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	MemoryType     model.MemoryType
	Tags           []string
	Limit          int
	IncludeDeleted bool
}

// Snapshot is a point-in-time view of active records and all edges.
type Snapshot struct {
	TakenAt time.Time
	Records []model.Record
	Edges   []model.Relation
}

// Store defines the memory storage interface.
type Store interface {
	// Write validates and appends a new revision. Returns the stored revision.
	Write(ctx context.Context, p WriteParams) (*model.Record, error)

	// Read returns the latest active revision and marks it touched.
	Read(ctx context.Context, id string) (*model.Record, error)

	// History returns every revision of id, newest first.
	History(ctx context.Context, id string) ([]model.Record, error)

	// SoftDelete marks a record inactive. Deleting twice is a no-op.
	SoftDelete(ctx context.Context, id, reason string) error

	// AppendRevision persists a maintenance update of an existing record.
	// rec.Revision must be the latest revision and the record must be active.
	AppendRevision(ctx context.Context, rec model.Record) (*model.Record, error)

	// AddRelation creates an edge between two active records.
	AddRelation(ctx context.Context, from, to, kind string, weight float64) (*model.Relation, error)

	// Connectivity counts edges between id and other active records.
	Connectivity(ctx context.Context, id string) (int, error)

	// Snapshot returns active records and edges read in one transaction.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Touch marks records as accessed.
	Touch(ctx context.Context, ids ...string) error

	// Close closes the store.
	Close() error
}
