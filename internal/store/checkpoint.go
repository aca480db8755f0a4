package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memkeeper/internal/model"
)

// HasCheckpoint reports whether key has been durably ingested.
func (s *SQLiteStore) HasCheckpoint(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingestion_checkpoints WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, goerr.Wrap(err, "lookup checkpoint", goerr.V("key", key))
	}
	return n > 0, nil
}

// SaveCheckpoint upserts cp. The last writer wins on a repeated key.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.Key == "" {
		return goerr.New("checkpoint key is required")
	}
	if cp.Status == "" {
		cp.Status = model.CheckpointIngested
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ingestion_checkpoints (key, digest, source_path, chunk_index, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET digest = excluded.digest, source_path = excluded.source_path,
			   chunk_index = excluded.chunk_index, status = excluded.status, created_at = excluded.created_at`,
			cp.Key, cp.Digest, cp.SourcePath, cp.ChunkIndex, cp.Status, cp.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return goerr.Wrap(err, "save checkpoint", goerr.V("key", cp.Key), goerr.V("source_path", cp.SourcePath))
		}
		return nil
	})
}

// Checkpoints lists checkpoints recorded for sourcePath in chunk order.
func (s *SQLiteStore) Checkpoints(ctx context.Context, sourcePath string) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, digest, source_path, chunk_index, status, created_at
		 FROM ingestion_checkpoints WHERE source_path = ? ORDER BY chunk_index`, sourcePath)
	if err != nil {
		return nil, goerr.Wrap(err, "query checkpoints", goerr.V("source_path", sourcePath))
	}
	defer rows.Close()

	var cps []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		var createdAt string
		if err := rows.Scan(&cp.Key, &cp.Digest, &cp.SourcePath, &cp.ChunkIndex, &cp.Status, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "scan checkpoint")
		}
		cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}
