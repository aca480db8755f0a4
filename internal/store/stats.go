package store

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string      `json:"db_path"`
	DBSizeBytes    int64       `json:"db_size_bytes"`
	TotalRevisions int         `json:"total_revisions"`
	TotalRecords   int         `json:"total_records"`
	ActiveRecords  int         `json:"active_records"`
	DeletedRecords int         `json:"deleted_records"`
	Relations      int         `json:"relations"`
	Checkpoints    int         `json:"checkpoints"`
	ByType         []TypeStats `json:"by_type"`
}

// TypeStats holds per memory type counts of active records.
type TypeStats struct {
	MemoryType    string  `json:"memory_type"`
	Count         int     `json:"count"`
	AvgImportance float64 `json:"avg_importance"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&st.TotalRevisions, `SELECT COUNT(*) FROM memory_revisions`},
		{&st.TotalRecords, `SELECT COUNT(DISTINCT id) FROM memory_revisions`},
		{&st.Relations, `SELECT COUNT(*) FROM memory_links`},
		{&st.Checkpoints, `SELECT COUNT(*) FROM ingestion_checkpoints`},
		{&st.ActiveRecords, `SELECT COUNT(*) FROM memory_revisions r
			JOIN (SELECT id, MAX(revision) AS max_rev FROM memory_revisions GROUP BY id) latest
			  ON r.id = latest.id AND r.revision = latest.max_rev
			WHERE r.soft_deleted = 0`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, goerr.Wrap(err, "count rows")
		}
	}
	st.DeletedRecords = st.TotalRecords - st.ActiveRecords

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.memory_type, COUNT(*) AS cnt, AVG(r.importance)
		FROM memory_revisions r
		JOIN (SELECT id, MAX(revision) AS max_rev FROM memory_revisions GROUP BY id) latest
		  ON r.id = latest.id AND r.revision = latest.max_rev
		WHERE r.soft_deleted = 0
		GROUP BY r.memory_type ORDER BY cnt DESC, r.memory_type`)
	if err != nil {
		return st, goerr.Wrap(err, "query type stats")
	}
	defer rows.Close()

	for rows.Next() {
		var ts TypeStats
		if err := rows.Scan(&ts.MemoryType, &ts.Count, &ts.AvgImportance); err != nil {
			return st, goerr.Wrap(err, "scan type stats")
		}
		st.ByType = append(st.ByType, ts)
	}
	return st, rows.Err()
}
