package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/m-mizutani/goerr/v2"
)

// Snapshot returns all active records and every persisted edge, read inside
// one transaction so maintenance and ranking see a consistent graph.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: s.now()}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := latestSelect().
			Where(sq.Eq{"r.soft_deleted": 0}).
			OrderBy("r.id ASC").
			ToSql()
		if err != nil {
			return goerr.Wrap(err, "build snapshot query")
		}
		snap.Records, err = queryRecords(ctx, tx, query, args...)
		if err != nil {
			return goerr.Wrap(err, "read snapshot records")
		}

		snap.Edges, err = queryEdges(ctx, tx,
			`SELECT from_id, to_id, kind, weight, created_at FROM memory_links
			 ORDER BY from_id, to_id, kind`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
