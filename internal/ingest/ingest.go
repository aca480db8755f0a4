// Package ingest writes text files into the record store chunk by chunk,
// checkpointing each chunk so interrupted runs resume where they stopped.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memkeeper/internal/chunker"
	"github.com/rcliao/memkeeper/internal/extract"
	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/store"
)

// ErrIngestionChunk is returned when a chunk could not be extracted, written,
// or checkpointed. The source file is kept.
var ErrIngestionChunk = goerr.New("ingestion chunk failed")

// KeyPrefix starts every chunk checkpoint key.
const KeyPrefix = "ingestion:chunk:"

// Tags added to every ingested record.
const (
	TagIngestion       = "ingestion"
	TagExtensionPrefix = "ingestion_extension:"
)

var supportedExtensions = map[string]bool{
	"txt": true, "md": true, "json": true, "jsonl": true, "csv": true, "tsv": true,
	"log": true, "xml": true, "yaml": true, "yml": true, "toml": true,
}

// Supported reports whether path has an ingestible extension.
func Supported(path string) bool {
	return supportedExtensions[extension(path)]
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Store is the persistence ingestion needs.
type Store interface {
	Write(ctx context.Context, p store.WriteParams) (*model.Record, error)
	HasCheckpoint(ctx context.Context, key string) (bool, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// Recorder receives ingestion counts, typically a *metrics.Manager.
type Recorder interface {
	RecordIngestFile(outcome string)
	RecordIngestChunks(outcome string, n int)
}

// Config controls chunking, concurrency, and source cleanup.
type Config struct {
	Dir           string        `json:"dir" yaml:"dir" koanf:"dir"`
	ChunkMode     chunker.Mode  `json:"chunk_mode" yaml:"chunk_mode" koanf:"chunk_mode" validate:"omitempty,oneof=lines markdown"`
	LineCount     int           `json:"line_count" yaml:"line_count" koanf:"line_count" validate:"gte=0"`
	TargetSize    int           `json:"target_size" yaml:"target_size" koanf:"target_size" validate:"gte=0"`
	MaxSize       int           `json:"max_size" yaml:"max_size" koanf:"max_size" validate:"gte=0"`
	DeleteSource  bool          `json:"delete_source" yaml:"delete_source" koanf:"delete_source"`
	Concurrency   int           `json:"concurrency" yaml:"concurrency" koanf:"concurrency" validate:"gte=0"`
	WatchInterval time.Duration `json:"watch_interval" yaml:"watch_interval" koanf:"watch_interval"`
	Debounce      time.Duration `json:"debounce" yaml:"debounce" koanf:"debounce"`
}

// DefaultConfig returns line chunking, source deletion, and four workers.
func DefaultConfig() Config {
	return Config{
		ChunkMode:     chunker.ModeLines,
		LineCount:     chunker.DefaultLineCount,
		TargetSize:    chunker.DefaultTargetSize,
		MaxSize:       chunker.DefaultMaxSize,
		DeleteSource:  true,
		Concurrency:   4,
		WatchInterval: 30 * time.Second,
		Debounce:      500 * time.Millisecond,
	}
}

// ChunkOptions converts the chunking fields to chunker options.
func (c Config) ChunkOptions() chunker.Options {
	return chunker.Options{
		Mode:       c.ChunkMode,
		LineCount:  c.LineCount,
		TargetSize: c.TargetSize,
		MaxSize:    c.MaxSize,
	}
}

// FileResult describes the ingestion of one file.
type FileResult struct {
	Path             string   `json:"path" yaml:"path"`
	Supported        bool     `json:"supported" yaml:"supported"`
	ChunksDiscovered int      `json:"chunks_discovered" yaml:"chunks_discovered"`
	ChunksIngested   int      `json:"chunks_ingested" yaml:"chunks_ingested"`
	ChunksSkipped    int      `json:"chunks_skipped_existing" yaml:"chunks_skipped_existing"`
	Deleted          bool     `json:"deleted" yaml:"deleted"`
	Failed           bool     `json:"failed" yaml:"failed"`
	Diagnostics      []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Summary aggregates a directory pass.
type Summary struct {
	DiscoveredFiles         int      `json:"discovered_files" yaml:"discovered_files"`
	SupportedFiles          int      `json:"supported_files" yaml:"supported_files"`
	SkippedUnsupportedFiles int      `json:"skipped_unsupported_files" yaml:"skipped_unsupported_files"`
	ProcessedFiles          int      `json:"processed_files" yaml:"processed_files"`
	DeletedFiles            int      `json:"deleted_files" yaml:"deleted_files"`
	FailedFiles             int      `json:"failed_files" yaml:"failed_files"`
	ChunksDiscovered        int      `json:"chunks_discovered" yaml:"chunks_discovered"`
	ChunksIngested          int      `json:"chunks_ingested" yaml:"chunks_ingested"`
	ChunksSkippedExisting   int      `json:"chunks_skipped_existing" yaml:"chunks_skipped_existing"`
	Diagnostics             []string `json:"diagnostics" yaml:"diagnostics"`
}

func (s *Summary) add(r FileResult) {
	s.DiscoveredFiles++
	if !r.Supported {
		s.SkippedUnsupportedFiles++
		s.Diagnostics = append(s.Diagnostics, r.Diagnostics...)
		return
	}
	s.SupportedFiles++
	if r.Failed {
		s.FailedFiles++
	} else {
		s.ProcessedFiles++
	}
	if r.Deleted {
		s.DeletedFiles++
	}
	s.ChunksDiscovered += r.ChunksDiscovered
	s.ChunksIngested += r.ChunksIngested
	s.ChunksSkippedExisting += r.ChunksSkipped
	s.Diagnostics = append(s.Diagnostics, r.Diagnostics...)
}

// Ingester writes files into a Store.
type Ingester struct {
	store     Store
	cfg       Config
	extractor extract.Extractor
	logger    zerolog.Logger
	recorder  Recorder
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithExtractor routes chunks through a model instead of storing them verbatim.
func WithExtractor(e extract.Extractor) Option {
	return func(i *Ingester) { i.extractor = e }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(i *Ingester) { i.logger = l }
}

// WithRecorder reports file and chunk counts.
func WithRecorder(r Recorder) Option {
	return func(i *Ingester) { i.recorder = r }
}

// New creates an Ingester.
func New(s Store, cfg Config, opts ...Option) *Ingester {
	i := &Ingester{store: s, cfg: cfg, logger: zerolog.Nop()}
	for _, o := range opts {
		o(i)
	}
	i.logger = i.logger.With().Str("component", "ingest").Logger()
	return i
}

// IngestFile processes one file. Chunks with a checkpoint are skipped. The
// first failing chunk stops the file; the returned error matches
// ErrIngestionChunk and the file is left in place.
func (i *Ingester) IngestFile(ctx context.Context, path string) (FileResult, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	res := FileResult{Path: path, Supported: Supported(path)}
	if !res.Supported {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("ingestion_file_unsupported_extension: path=%s", path))
		i.record("unsupported")
		return res, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Failed = true
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("ingestion_file_read_failed: path=%s error=%v", path, err))
		i.record("failed")
		return res, goerr.Wrap(err, "read source file", goerr.V("path", path))
	}

	chunks := chunker.Split(string(data), i.cfg.ChunkOptions())
	res.ChunksDiscovered = len(chunks)
	ext := extension(path)

	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		c := extract.Chunk{SourcePath: path, Index: ch.Index, Text: ch.Text, Extension: ext}
		digest := chunkDigest(path, ch.Index, ch.Text)
		c.CheckpointKey = KeyPrefix + digest

		done, err := i.store.HasCheckpoint(ctx, c.CheckpointKey)
		if err != nil {
			return i.failChunk(res, "ingestion_checkpoint_lookup_failed", c, err)
		}
		if done {
			res.ChunksSkipped++
			continue
		}

		if reason, err := i.ingestChunk(ctx, c, digest); err != nil {
			return i.failChunk(res, reason, c, err)
		}

		err = i.store.SaveCheckpoint(ctx, model.Checkpoint{
			Key:        c.CheckpointKey,
			Digest:     digest,
			SourcePath: path,
			ChunkIndex: ch.Index,
			Status:     model.CheckpointIngested,
		})
		if err != nil {
			return i.failChunk(res, "ingestion_checkpoint_write_failed", c, err)
		}
		res.ChunksIngested++
	}

	i.chunks("ingested", res.ChunksIngested)
	i.chunks("skipped", res.ChunksSkipped)

	if i.cfg.DeleteSource {
		if err := os.Remove(path); err != nil {
			res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("ingestion_file_delete_failed: path=%s error=%v", path, err))
			i.logger.Warn().Err(err).Str("path", path).Msg("source file kept")
		} else {
			res.Deleted = true
			i.record("deleted")
		}
	}
	i.record("processed")

	i.logger.Info().
		Str("path", path).
		Int("chunks", res.ChunksDiscovered).
		Int("ingested", res.ChunksIngested).
		Int("skipped", res.ChunksSkipped).
		Bool("deleted", res.Deleted).
		Msg("file ingested")
	return res, nil
}

func (i *Ingester) failChunk(res FileResult, reason string, c extract.Chunk, err error) (FileResult, error) {
	res.Failed = true
	res.Diagnostics = append(res.Diagnostics,
		fmt.Sprintf("%s: path=%s chunk_index=%d error=%v", reason, c.SourcePath, c.Index, err))
	i.chunks("ingested", res.ChunksIngested)
	i.chunks("skipped", res.ChunksSkipped)
	i.chunks("failed", 1)
	i.record("failed")
	i.logger.Warn().Err(err).Str("path", c.SourcePath).Int("chunk_index", c.Index).Str("reason", reason).Msg("chunk failed, source kept")
	return res, fmt.Errorf("%w: %s: %w", ErrIngestionChunk, reason, err)
}

// ingestChunk writes every plan for c. On failure it returns the diagnostic
// reason alongside the error.
func (i *Ingester) ingestChunk(ctx context.Context, c extract.Chunk, digest string) (string, error) {
	plans := []extract.WritePlan{defaultPlan(c)}
	if i.extractor != nil {
		p, err := i.extractor.Extract(ctx, c)
		if err != nil {
			return "ingestion_chunk_llm_processing_failed", err
		}
		plans = p
	}

	for v, plan := range plans {
		p := i.writeParams(c, digest, plan, v, len(plans))
		if _, err := i.store.Write(ctx, p); err != nil {
			return "ingestion_chunk_write_failed", err
		}
	}
	return "", nil
}

func defaultPlan(c extract.Chunk) extract.WritePlan {
	return extract.WritePlan{
		Summary:    defaultSummary(c),
		Facts:      []string{c.Text},
		MemoryType: model.TypeFact,
	}
}

func (i *Ingester) writeParams(c extract.Chunk, digest string, plan extract.WritePlan, variant, total int) store.WriteParams {
	id := plan.MemoryID
	if id == "" {
		id = RecordID(c.SourcePath, c.Index, digest)
		// The first plan keeps the chunk id; later plans count from -02.
		if total > 1 && variant > 0 {
			id = fmt.Sprintf("%s-%02d", id, variant+1)
		}
	}

	tags := append([]string{TagIngestion, TagExtensionPrefix + c.Extension}, plan.Tags...)
	tags = lo.Uniq(tags)
	sort.Strings(tags)

	return store.WriteParams{
		ID:         id,
		Content:    strings.Join(plan.Facts, "\n"),
		Summary:    plan.Summary,
		Tags:       tags,
		MemoryType: plan.MemoryType,
		Importance: plan.Importance,
		Source:     c.SourcePath,
	}
}

// chunkDigest hashes the source path, chunk index, and chunk text.
func chunkDigest(path string, index int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", path, index, text)))
	return hex.EncodeToString(sum[:])
}

// RecordID returns the deterministic id of the record for a chunk, so a rerun
// after a crash between write and checkpoint revises instead of duplicating.
func RecordID(path string, index int, digest string) string {
	if len(digest) > 12 {
		digest = digest[:12]
	}
	return fmt.Sprintf("ingest-%s-%04d-%s", sanitizeStem(path), index+1, digest)
}

func sanitizeStem(path string) string {
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	var b strings.Builder
	for _, r := range stem {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "chunk"
	}
	return out
}

func defaultSummary(c extract.Chunk) string {
	head := fmt.Sprintf("Ingested chunk %d from %s", c.Index+1, filepath.Base(c.SourcePath))
	first, _, _ := strings.Cut(c.Text, "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return head
	}
	if r := []rune(first); len(r) > 80 {
		first = string(r[:80])
	}
	return head + ": " + first
}

// IngestDir processes every regular file directly inside dir in name order.
// A missing directory yields a diagnostic, not an error. Per-file failures
// are counted in the summary; only cancellation aborts the pass.
func (i *Ingester) IngestDir(ctx context.Context, dir string) (Summary, error) {
	sum := Summary{Diagnostics: []string{}}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		sum.Diagnostics = append(sum.Diagnostics, fmt.Sprintf("ingestion_directory_missing: path=%s", dir))
		return sum, nil
	}
	if err != nil {
		return sum, goerr.Wrap(err, "stat ingestion directory", goerr.V("path", dir))
	}
	if !info.IsDir() {
		return sum, goerr.New("ingestion path is not a directory", goerr.V("path", dir))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return sum, goerr.Wrap(err, "read ingestion directory", goerr.V("path", dir))
	}
	files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return filepath.Join(dir, e.Name()), e.Type().IsRegular()
	})

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	limit := i.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for idx, path := range files {
		g.Go(func() error {
			res, err := i.IngestFile(gctx, path)
			results[idx] = res
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	for _, r := range results {
		sum.add(r)
	}
	i.logger.Info().
		Str("dir", dir).
		Int("files", sum.DiscoveredFiles).
		Int("processed", sum.ProcessedFiles).
		Int("failed", sum.FailedFiles).
		Int("chunks_ingested", sum.ChunksIngested).
		Msg("directory ingested")
	return sum, nil
}

func (i *Ingester) record(outcome string) {
	if i.recorder != nil {
		i.recorder.RecordIngestFile(outcome)
	}
}

func (i *Ingester) chunks(outcome string, n int) {
	if i.recorder != nil {
		i.recorder.RecordIngestChunks(outcome, n)
	}
}
