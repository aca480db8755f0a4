// Package model defines the core memory data types.
package model

import (
	"strings"
	"time"
)

// MemoryType classifies a record. It drives the default importance and the
// identity exemption.
type MemoryType string

const (
	TypeIdentity    MemoryType = "identity"
	TypeGoal        MemoryType = "goal"
	TypeDecision    MemoryType = "decision"
	TypeTodo        MemoryType = "todo"
	TypePreference  MemoryType = "preference"
	TypeFact        MemoryType = "fact"
	TypeEvent       MemoryType = "event"
	TypeObservation MemoryType = "observation"
)

// MemoryTypes lists every valid memory type in a stable order.
var MemoryTypes = []MemoryType{
	TypeIdentity, TypeGoal, TypeDecision, TypeTodo,
	TypePreference, TypeFact, TypeEvent, TypeObservation,
}

// ParseMemoryType normalizes s and reports whether it names a known type.
func ParseMemoryType(s string) (MemoryType, bool) {
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range MemoryTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Reasons recorded on soft-deleted revisions.
const (
	DeletedManual    = "manual"
	DeletedPruned    = "pruned"
	DeletedOrphaned  = "orphaned"
	DeletedDuplicate = "duplicate"
)

// ValidDeleteReasons are the reasons a soft-deleted revision may carry.
var ValidDeleteReasons = map[string]bool{
	DeletedManual:    true,
	DeletedPruned:    true,
	DeletedOrphaned:  true,
	DeletedDuplicate: true,
}

// Record represents one revision of a stored memory.
type Record struct {
	ID            string     `json:"id"`
	Revision      int        `json:"revision"`
	Content       string     `json:"content"`
	Summary       string     `json:"summary,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	MemoryType    MemoryType `json:"memory_type"`
	Importance    float64    `json:"importance"`
	IsIdentity    bool       `json:"is_identity"`
	SoftDeleted   bool       `json:"soft_deleted"`
	DeletedReason string     `json:"deleted_reason,omitempty"`
	Source        string     `json:"source,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastTouchedAt time.Time  `json:"last_touched_at"`
	AccessCount   int        `json:"access_count"`
	Relations     []Relation `json:"relations,omitempty"`

	// Embedding is the stored vector of SearchText, nil when none was computed.
	Embedding       []float32 `json:"-"`
	EmbeddingSource string    `json:"embedding_source,omitempty"`
}

// SearchText is the text ranked and embedded for the record.
func (r Record) SearchText() string {
	parts := []string{r.Content}
	if r.Summary != "" {
		parts = append(parts, r.Summary)
	}
	parts = append(parts, r.Tags...)
	return strings.Join(parts, " ")
}

// Exempt reports whether lifecycle maintenance must leave the record alone.
func (r Record) Exempt() bool {
	return r.IsIdentity || r.MemoryType == TypeIdentity
}

// Relation kinds.
const (
	RelRelatesTo  = "relates_to"
	RelDependsOn  = "depends_on"
	RelSupports   = "supports"
	RelBlocks     = "blocks"
	RelReferences = "references"
)

// ValidRelations are the allowed relation kinds.
var ValidRelations = map[string]bool{
	RelRelatesTo:  true,
	RelDependsOn:  true,
	RelSupports:   true,
	RelBlocks:     true,
	RelReferences: true,
}

// Relation is a weighted edge between two records.
type Relation struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Kind      string    `json:"kind"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Other returns the endpoint of the edge that is not id.
func (r Relation) Other(id string) string {
	if r.FromID == id {
		return r.ToID
	}
	return r.FromID
}

// Checkpoint marks a chunk as durably ingested.
type Checkpoint struct {
	Key        string    `json:"key"`
	Digest     string    `json:"digest"`
	SourcePath string    `json:"source_path"`
	ChunkIndex int       `json:"chunk_index"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// CheckpointIngested is the only persisted checkpoint status; pending chunks
// simply have no row.
const CheckpointIngested = "ingested"
