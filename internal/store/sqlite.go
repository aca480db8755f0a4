package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memkeeper/internal/embedding"
	"github.com/rcliao/memkeeper/internal/model"
)

// SQLiteStore implements Store using SQLite.
//
// Writers are serialized by mu and every write transaction is opened with
// BEGIN IMMEDIATE, so validation reads and the inserts that depend on them
// cannot interleave with another writer.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	mu      sync.Mutex
	entropy *rand.Rand
	profile model.ImportanceProfile
	now     func() time.Time
	logger  zerolog.Logger
	embed   embedding.Embedder
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithImportanceProfile sets the profile used when a write omits importance.
func WithImportanceProfile(p model.ImportanceProfile) Option {
	return func(s *SQLiteStore) { s.profile = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l.With().Str("component", "store").Logger() }
}

// WithEmbedder sets the embedder that vectors new content on write.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *SQLiteStore) { s.embed = e }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "create db dir", goerr.V("dir", dir))
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "open db", goerr.V("path", dbPath))
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		profile: model.DefaultImportanceProfile(),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zerolog.Nop(),
		embed:   embedding.NewHash(embedding.DefaultDimensions),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := runMigrations(db, s.logger); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "migrate", goerr.V("path", dbPath))
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Profile returns the importance profile in use.
func (s *SQLiteStore) Profile() model.ImportanceProfile { return s.profile }

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside a serialized transaction.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "begin write transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit write transaction")
	}
	return nil
}

// Write validates p and appends a revision together with its outbound edges.
// Nothing is persisted when any part of p is invalid.
func (s *SQLiteStore) Write(ctx context.Context, p WriteParams) (*model.Record, error) {
	rec, err := s.recordFromParams(p)
	if err != nil {
		return nil, err
	}
	if err := s.embedRecord(ctx, rec); err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := latestRevision(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if prev != nil {
			rec.Revision = prev.Revision + 1
			rec.CreatedAt = prev.CreatedAt
		}

		edges := make([]model.Relation, 0, len(p.Relations))
		for _, in := range p.Relations {
			rel, err := normalizeRelation(rec.ID, in.TargetID, in.Kind, in.Weight, rec.UpdatedAt)
			if err != nil {
				return err
			}
			if err := requireActive(ctx, tx, in.TargetID); err != nil {
				return err
			}
			edges = append(edges, *rel)
		}

		if err := insertRevision(ctx, tx, rec); err != nil {
			return err
		}
		for _, e := range edges {
			if err := insertEdge(ctx, tx, e); err != nil {
				return err
			}
		}

		rec.Relations, err = relationsOf(ctx, tx, rec.ID, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("id", rec.ID).Int("revision", rec.Revision).Int("relations", len(p.Relations)).Msg("record written")
	return rec, nil
}

// embedRecord stores a vector of the record's search text. It runs outside
// the write transaction so a slow provider does not hold the writer lock.
func (s *SQLiteStore) embedRecord(ctx context.Context, rec *model.Record) error {
	v, src, err := embedding.Compute(ctx, s.embed, rec.SearchText())
	if err != nil {
		return goerr.Wrap(err, "embed record", goerr.V("id", rec.ID))
	}
	rec.Embedding = v
	rec.EmbeddingSource = src
	return nil
}

func (s *SQLiteStore) recordFromParams(p WriteParams) (*model.Record, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, goerr.Wrap(ErrInvalidRecord, "content is required")
	}

	memType := model.TypeFact
	if p.MemoryType != "" {
		t, ok := model.ParseMemoryType(string(p.MemoryType))
		if !ok {
			return nil, goerr.Wrap(ErrInvalidRecord, "unknown memory type", goerr.V("memory_type", p.MemoryType))
		}
		memType = t
	}

	importance := s.profile.For(memType)
	if p.Importance != nil {
		importance = *p.Importance
	}
	if err := checkUnit(importance); err != nil {
		return nil, goerr.Wrap(ErrInvalidRecord, "importance out of range", goerr.V("importance", importance))
	}

	id := p.ID
	if id == "" {
		id = s.newID()
	}
	now := s.now()

	return &model.Record{
		ID:            id,
		Revision:      1,
		Content:       p.Content,
		Summary:       p.Summary,
		Tags:          p.Tags,
		MemoryType:    memType,
		Importance:    importance,
		IsIdentity:    p.IsIdentity || memType == model.TypeIdentity,
		Source:        p.Source,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastTouchedAt: now,
	}, nil
}

// checkUnit rejects values that are not finite or fall outside [0,1].
func checkUnit(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return fmt.Errorf("value %v not within [0,1]", v)
	}
	return nil
}

// Read returns the latest active revision of id and records the access.
func (s *SQLiteStore) Read(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Touch(ctx, id); err != nil {
		return nil, err
	}
	rec.LastTouchedAt = s.now()
	rec.AccessCount++
	return rec, nil
}

// Peek is Read without touching lifecycle metadata.
func (s *SQLiteStore) Peek(ctx context.Context, id string) (*model.Record, error) {
	rec, err := latestRevision(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.SoftDeleted {
		return nil, goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", id))
	}
	rec.Relations, err = relationsOf(ctx, s.db, id, true)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History returns every revision of id, newest first.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]model.Record, error) {
	query, args, err := revisionSelect().
		Where(sq.Eq{"r.id": id}).
		OrderBy("r.revision DESC").
		ToSql()
	if err != nil {
		return nil, goerr.Wrap(err, "build history query")
	}

	records, err := queryRecords(ctx, s.db, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query history", goerr.V("id", id))
	}
	if len(records) == 0 {
		return nil, goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", id))
	}
	return records, nil
}

// SoftDelete appends a soft-deleted revision carrying reason, which must be
// one of model.ValidDeleteReasons. An empty reason means manual.
func (s *SQLiteStore) SoftDelete(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = model.DeletedManual
	}
	if !model.ValidDeleteReasons[reason] {
		return goerr.Wrap(ErrInvalidRecord, "unknown delete reason", goerr.V("reason", reason))
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := latestRevision(ctx, tx, id)
		if err != nil {
			return err
		}
		if prev == nil {
			return goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", id))
		}
		if prev.SoftDeleted {
			return nil
		}
		next := *prev
		next.Revision++
		next.SoftDeleted = true
		next.DeletedReason = reason
		next.UpdatedAt = s.now()
		return insertRevision(ctx, tx, &next)
	})
}

// AppendRevision persists rec as the next revision of an existing record.
// rec.Revision names the revision it was derived from: when the record has
// gained a revision since, or has been soft-deleted, nothing is written and
// ErrRevisionConflict is returned. Revision and UpdatedAt are assigned here;
// CreatedAt and the embedding are kept from history.
func (s *SQLiteStore) AppendRevision(ctx context.Context, rec model.Record) (*model.Record, error) {
	if err := checkUnit(rec.Importance); err != nil {
		return nil, goerr.Wrap(ErrInvalidRecord, "importance out of range",
			goerr.V("id", rec.ID), goerr.V("importance", rec.Importance))
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := latestRevision(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if prev == nil {
			return goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", rec.ID))
		}
		if prev.Revision != rec.Revision || prev.SoftDeleted {
			return goerr.Wrap(ErrRevisionConflict, "record changed since it was read",
				goerr.V("id", rec.ID),
				goerr.V("base_revision", rec.Revision),
				goerr.V("latest_revision", prev.Revision),
				goerr.V("latest_soft_deleted", prev.SoftDeleted))
		}
		rec.Revision = prev.Revision + 1
		rec.CreatedAt = prev.CreatedAt
		rec.UpdatedAt = s.now()
		rec.Embedding = prev.Embedding
		rec.EmbeddingSource = prev.EmbeddingSource
		return insertRevision(ctx, tx, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Touch marks ids as accessed now.
func (s *SQLiteStore) Touch(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.now().Format(time.RFC3339Nano)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO memory_touches (id, touched_at, access_count) VALUES (?, ?, 1)
				 ON CONFLICT(id) DO UPDATE SET touched_at = excluded.touched_at,
				   access_count = memory_touches.access_count + 1`,
				id, now)
			if err != nil {
				return goerr.Wrap(err, "touch memory", goerr.V("id", id))
			}
		}
		return nil
	})
}

// List returns the latest revision of each record, newest first.
func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Record, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	b := latestSelect().OrderBy("r.updated_at DESC", "r.id ASC").Limit(uint64(limit))
	if !p.IncludeDeleted {
		b = b.Where(sq.Eq{"r.soft_deleted": 0})
	}
	if p.MemoryType != "" {
		b = b.Where(sq.Eq{"r.memory_type": string(p.MemoryType)})
	}
	for _, tag := range p.Tags {
		b = b.Where(sq.Like{"r.tags": "%\"" + tag + "\"%"})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, goerr.Wrap(err, "build list query")
	}
	return queryRecords(ctx, s.db, query, args...)
}

var recordColumns = []string{
	"r.id", "r.revision", "r.content", "r.summary", "r.tags", "r.memory_type",
	"r.importance", "r.is_identity", "r.soft_deleted", "r.deleted_reason", "r.source",
	"r.created_at", "r.updated_at", "t.touched_at", "COALESCE(t.access_count, 0)",
	"r.embedding", "r.embedding_source",
}

// revisionSelect selects revisions joined with their touch state.
func revisionSelect() sq.SelectBuilder {
	return sq.Select(recordColumns...).
		From("memory_revisions r").
		LeftJoin("memory_touches t ON t.id = r.id")
}

// latestSelect restricts revisionSelect to the newest revision per id.
func latestSelect() sq.SelectBuilder {
	return sq.Select(recordColumns...).
		From("memory_revisions r").
		Join("(SELECT id, MAX(revision) AS max_rev FROM memory_revisions GROUP BY id) latest ON r.id = latest.id AND r.revision = latest.max_rev").
		LeftJoin("memory_touches t ON t.id = r.id")
}

// latestRevision returns the newest revision of id, or nil when id is unknown.
func latestRevision(ctx context.Context, q querier, id string) (*model.Record, error) {
	query, args, err := revisionSelect().
		Where(sq.Eq{"r.id": id}).
		OrderBy("r.revision DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, goerr.Wrap(err, "build latest revision query")
	}

	rec, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "read latest revision", goerr.V("id", id))
	}
	return &rec, nil
}

// requireActive fails with ErrInvalidRelation unless id is an active record.
func requireActive(ctx context.Context, q querier, id string) error {
	rec, err := latestRevision(ctx, q, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.SoftDeleted {
		return goerr.Wrap(ErrInvalidRelation, "relation endpoint is not an active record", goerr.V("id", id))
	}
	return nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, rec *model.Record) error {
	var tagsJSON *string
	if len(rec.Tags) > 0 {
		b, err := json.Marshal(rec.Tags)
		if err != nil {
			return goerr.Wrap(err, "encode tags", goerr.V("id", rec.ID))
		}
		s := string(b)
		tagsJSON = &s
	}

	query, args, err := sq.Insert("memory_revisions").
		Columns("id", "revision", "content", "summary", "tags", "memory_type", "importance",
			"is_identity", "soft_deleted", "deleted_reason", "source", "created_at", "updated_at",
			"embedding", "embedding_source").
		Values(rec.ID, rec.Revision, rec.Content, nullString(rec.Summary), tagsJSON,
			string(rec.MemoryType), rec.Importance, boolInt(rec.IsIdentity), boolInt(rec.SoftDeleted),
			nullString(rec.DeletedReason), nullString(rec.Source),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
			embedding.Encode(rec.Embedding), nullString(rec.EmbeddingSource)).
		ToSql()
	if err != nil {
		return goerr.Wrap(err, "build insert revision")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return goerr.Wrap(err, "insert revision", goerr.V("id", rec.ID), goerr.V("revision", rec.Revision))
	}
	return nil
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]model.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.Record, error) {
	var r model.Record
	var summary, tagsJSON, reason, source, touchedAt, embedSource sql.NullString
	var memType, createdAt, updatedAt string
	var isIdentity, softDeleted int
	var vec []byte

	err := row.Scan(
		&r.ID, &r.Revision, &r.Content, &summary, &tagsJSON, &memType,
		&r.Importance, &isIdentity, &softDeleted, &reason, &source,
		&createdAt, &updatedAt, &touchedAt, &r.AccessCount,
		&vec, &embedSource,
	)
	if err != nil {
		return r, err
	}

	r.MemoryType = model.MemoryType(memType)
	r.IsIdentity = isIdentity != 0
	r.SoftDeleted = softDeleted != 0
	r.Summary = summary.String
	r.DeletedReason = reason.String
	r.Source = source.String
	r.EmbeddingSource = embedSource.String

	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return r, goerr.Wrap(err, "parse created_at", goerr.V("id", r.ID), goerr.V("revision", r.Revision))
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return r, goerr.Wrap(err, "parse updated_at", goerr.V("id", r.ID), goerr.V("revision", r.Revision))
	}
	r.LastTouchedAt = r.UpdatedAt
	if touchedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, touchedAt.String)
		if err != nil {
			return r, goerr.Wrap(err, "parse touched_at", goerr.V("id", r.ID))
		}
		if t.After(r.LastTouchedAt) {
			r.LastTouchedAt = t
		}
	}
	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &r.Tags); err != nil {
			return r, goerr.Wrap(err, "decode tags", goerr.V("id", r.ID), goerr.V("revision", r.Revision))
		}
	}
	if r.Embedding, err = embedding.Decode(vec); err != nil {
		return r, goerr.Wrap(err, "decode embedding", goerr.V("id", r.ID), goerr.V("revision", r.Revision))
	}
	return r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
