package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memkeeper/internal/model"
)

// DefaultRelationWeight is applied when a relation is written without a weight.
const DefaultRelationWeight = 1.0

// normalizeRelation validates an edge from -> to and fills defaults.
func normalizeRelation(from, to, kind string, weight float64, now time.Time) (*model.Relation, error) {
	if to == "" {
		return nil, goerr.Wrap(ErrInvalidRelation, "relation target is required", goerr.V("from_id", from))
	}
	if from == to {
		return nil, goerr.Wrap(ErrInvalidRelation, "relation cannot point at its own record", goerr.V("id", from))
	}
	if kind == "" {
		kind = model.RelRelatesTo
	}
	if !model.ValidRelations[kind] {
		return nil, goerr.Wrap(ErrInvalidRelation, "unknown relation kind", goerr.V("kind", kind))
	}
	if weight == 0 {
		weight = DefaultRelationWeight
	}
	if err := checkUnit(weight); err != nil {
		return nil, goerr.Wrap(ErrInvalidRelation, "relation weight out of range", goerr.V("weight", weight))
	}
	return &model.Relation{FromID: from, ToID: to, Kind: kind, Weight: weight, CreatedAt: now}, nil
}

// AddRelation creates an edge between two active records. Re-adding an
// existing (from, to, kind) edge is a no-op that returns the stored edge.
func (s *SQLiteStore) AddRelation(ctx context.Context, from, to, kind string, weight float64) (*model.Relation, error) {
	rel, err := normalizeRelation(from, to, kind, weight, s.now())
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireActive(ctx, tx, from); err != nil {
			return err
		}
		if err := requireActive(ctx, tx, to); err != nil {
			return err
		}
		if err := insertEdge(ctx, tx, *rel); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT weight FROM memory_links WHERE from_id = ? AND to_id = ? AND kind = ?`,
			rel.FromID, rel.ToID, rel.Kind).Scan(&rel.Weight)
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// RemoveRelation deletes an edge. Removing a missing edge is not an error.
func (s *SQLiteStore) RemoveRelation(ctx context.Context, from, to, kind string) error {
	if kind == "" {
		kind = model.RelRelatesTo
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM memory_links WHERE from_id = ? AND to_id = ? AND kind = ?`,
			from, to, kind)
		if err != nil {
			return goerr.Wrap(err, "delete relation", goerr.V("from_id", from), goerr.V("to_id", to))
		}
		return nil
	})
}

// Relations returns every edge touching id. Records that never had edges
// yield an empty slice.
func (s *SQLiteStore) Relations(ctx context.Context, id string) ([]model.Relation, error) {
	return relationsOf(ctx, s.db, id, false)
}

// Connectivity counts edges between id and other active records. Unknown
// ids and records without edges report 0.
func (s *SQLiteStore) Connectivity(ctx context.Context, id string) (int, error) {
	edges, err := relationsOf(ctx, s.db, id, false)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range edges {
		if e.Weight <= 0 {
			continue
		}
		other, err := latestRevision(ctx, s.db, e.Other(id))
		if err != nil {
			return 0, err
		}
		if other != nil && !other.SoftDeleted {
			n++
		}
	}
	return n, nil
}

// EdgeCount returns the number of persisted edges.
func (s *SQLiteStore) EdgeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "count relations")
	}
	return n, nil
}

func insertEdge(ctx context.Context, tx *sql.Tx, rel model.Relation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_links (from_id, to_id, kind, weight, created_at) VALUES (?, ?, ?, ?, ?)`,
		rel.FromID, rel.ToID, rel.Kind, rel.Weight, rel.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return goerr.Wrap(err, "insert relation", goerr.V("from_id", rel.FromID), goerr.V("to_id", rel.ToID))
	}
	return nil
}

// relationsOf loads edges touching id, or only its outbound edges.
func relationsOf(ctx context.Context, q querier, id string, outboundOnly bool) ([]model.Relation, error) {
	b := sq.Select("from_id", "to_id", "kind", "weight", "created_at").
		From("memory_links").
		OrderBy("created_at", "from_id", "to_id", "kind")
	if outboundOnly {
		b = b.Where(sq.Eq{"from_id": id})
	} else {
		b = b.Where(sq.Or{sq.Eq{"from_id": id}, sq.Eq{"to_id": id}})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, goerr.Wrap(err, "build relations query")
	}
	return queryEdges(ctx, q, query, args...)
}

func queryEdges(ctx context.Context, q querier, query string, args ...any) ([]model.Relation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query relations")
	}
	defer rows.Close()

	edges := []model.Relation{}
	for rows.Next() {
		var e model.Relation
		var createdAt string
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Kind, &e.Weight, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "scan relation")
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
