package store

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memkeeper/internal/model"
)

// ExportVersion identifies the export document layout.
const ExportVersion = 1

// Export is a portable dump of active records and the edges between them.
type Export struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Records    []model.Record   `json:"records"`
	Relations  []model.Relation `json:"relations"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Records          int `json:"records"`
	Relations        int `json:"relations"`
	SkippedRelations int `json:"skipped_relations"`
}

// ExportAll returns the latest revision of every active record, optionally
// restricted to one memory type, plus the edges among them.
func (s *SQLiteStore) ExportAll(ctx context.Context, memType model.MemoryType) (*Export, error) {
	b := latestSelect().Where(sq.Eq{"r.soft_deleted": 0}).OrderBy("r.id ASC")
	if memType != "" {
		b = b.Where(sq.Eq{"r.memory_type": string(memType)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, goerr.Wrap(err, "build export query")
	}
	records, err := queryRecords(ctx, s.db, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query export records")
	}

	included := make(map[string]bool, len(records))
	for _, r := range records {
		included[r.ID] = true
	}

	edges, err := queryEdges(ctx, s.db,
		`SELECT from_id, to_id, kind, weight, created_at FROM memory_links ORDER BY from_id, to_id, kind`)
	if err != nil {
		return nil, err
	}
	kept := []model.Relation{}
	for _, e := range edges {
		if included[e.FromID] && included[e.ToID] {
			kept = append(kept, e)
		}
	}

	if records == nil {
		records = []model.Record{}
	}
	return &Export{Version: ExportVersion, ExportedAt: s.now(), Records: records, Relations: kept}, nil
}

// Import writes every record first and then its relations, so edges may
// reference records that appear later in the document. Records keep their
// ids; an id that already exists gains a new revision. Relations whose
// endpoints are not active are skipped.
func (s *SQLiteStore) Import(ctx context.Context, exp *Export) (*ImportResult, error) {
	res := &ImportResult{}
	for _, r := range exp.Records {
		importance := r.Importance
		_, err := s.Write(ctx, WriteParams{
			ID:         r.ID,
			Content:    r.Content,
			Summary:    r.Summary,
			Tags:       r.Tags,
			MemoryType: r.MemoryType,
			Importance: &importance,
			IsIdentity: r.IsIdentity,
			Source:     r.Source,
		})
		if err != nil {
			return res, goerr.Wrap(err, "import record", goerr.V("id", r.ID))
		}
		res.Records++
	}

	for _, e := range exp.Relations {
		_, err := s.AddRelation(ctx, e.FromID, e.ToID, e.Kind, e.Weight)
		if errors.Is(err, ErrInvalidRelation) {
			s.logger.Warn().Str("from_id", e.FromID).Str("to_id", e.ToID).Err(err).Msg("skipping relation on import")
			res.SkippedRelations++
			continue
		}
		if err != nil {
			return res, err
		}
		res.Relations++
	}
	return res, nil
}
