package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/memkeeper/internal/embedding"
	"github.com/rcliao/memkeeper/internal/graph"
	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/store"
)

// ResultSchemaVersion is written into every Result.
const ResultSchemaVersion = 1

// Store is the persistence a maintenance pass needs.
type Store interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
	AppendRevision(ctx context.Context, rec model.Record) (*model.Record, error)
}

// Recorder receives pass outcomes, typically a *metrics.Manager.
type Recorder interface {
	RecordMaintenancePass(status string, outcomes map[string]int, duration time.Duration)
}

// Failure describes one record that could not be persisted.
type Failure struct {
	ID    string `json:"id" yaml:"id"`
	Error string `json:"error" yaml:"error"`
	err   error
}

// Err returns the underlying error, which matches ErrMaintenanceRecordWrite
// and, for records changed during the pass, store.ErrRevisionConflict.
func (f Failure) Err() error { return f.err }

// Result summarizes a pass. Field order is part of the output format.
type Result struct {
	SchemaVersion       int `json:"schema_version" yaml:"schema_version"`
	DecayedCount        int `json:"decayed_count" yaml:"decayed_count"`
	PrunedCount         int `json:"pruned_count" yaml:"pruned_count"`
	OrphanCleanedCount  int `json:"orphan_cleaned_count" yaml:"orphan_cleaned_count"`
	IdentityExemptCount int `json:"identity_exempt_count" yaml:"identity_exempt_count"`
	// DuplicateCleanedCount is zero unless duplicate cleanup is enabled.
	DuplicateCleanedCount int `json:"duplicate_cleaned_count" yaml:"duplicate_cleaned_count"`
	ScannedCount          int `json:"scanned_count" yaml:"scanned_count"`
	UnchangedCount        int `json:"unchanged_count" yaml:"unchanged_count"`
	FailedCount           int `json:"failed_count" yaml:"failed_count"`
	// ConflictCount is the subset of FailedCount skipped because the record
	// was changed or deleted after the snapshot.
	ConflictCount int       `json:"conflict_count" yaml:"conflict_count"`
	Failures      []Failure `json:"failures" yaml:"failures"`
}

func (r *Result) outcomes() map[string]int {
	return map[string]int{
		"decayed":           r.DecayedCount,
		"pruned":            r.PrunedCount,
		"orphan_cleaned":    r.OrphanCleanedCount,
		"identity_exempt":   r.IdentityExemptCount,
		"duplicate_cleaned": r.DuplicateCleanedCount,
		"unchanged":         r.UnchangedCount,
		"failed":            r.FailedCount,
		"conflict":          r.ConflictCount,
	}
}

// Outcome is the decision taken for a single record.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeExempt
	OutcomeDecayed
	OutcomePruned
	OutcomeOrphaned
	OutcomeDuplicate
)

// Decision is the result of evaluating one record against a policy.
type Decision struct {
	Outcome Outcome
	Decayed bool
	Record  model.Record
}

// Evaluate decides what a pass does with rec. connected reports whether rec
// had a live edge to another active record when the pass started.
func Evaluate(rec model.Record, connected bool, p Policy, now time.Time) Decision {
	if rec.Exempt() {
		return Decision{Outcome: OutcomeExempt, Record: rec}
	}

	next := rec
	d := Decision{Outcome: OutcomeUnchanged}

	if p.StaleAfter <= 0 || now.Sub(rec.LastTouchedAt) >= p.StaleAfter {
		decayed := clampUnit(rec.Importance * (1 - p.DecayRate))
		if decayed != rec.Importance {
			next.Importance = decayed
			d.Decayed = true
			d.Outcome = OutcomeDecayed
		}
	}

	switch {
	case next.Importance < p.PruneFloor:
		next.SoftDeleted = true
		next.DeletedReason = model.DeletedPruned
		d.Outcome = OutcomePruned
	case p.EnableOrphanCleanup && !connected && next.Importance < p.OrphanImportanceThreshold:
		next.SoftDeleted = true
		next.DeletedReason = model.DeletedOrphaned
		d.Outcome = OutcomeOrphaned
	}

	d.Record = next
	return d
}

// duplicateOf soft-deletes rec as a near copy of a better ranked record.
// Duplicates are not decayed.
func duplicateOf(rec model.Record) Decision {
	rec.SoftDeleted = true
	rec.DeletedReason = model.DeletedDuplicate
	return Decision{Outcome: OutcomeDuplicate, Record: rec}
}

// Duplicates returns the ids of records whose embedding is at least
// threshold similar to a better ranked record. Records rank by importance,
// then id. Exempt records and records without an embedding never take part,
// and a record already marked cannot mark others.
func Duplicates(records []model.Record, threshold float64) map[string]bool {
	ranked := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r.Exempt() || len(r.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Importance != ranked[j].Importance {
			return ranked[i].Importance > ranked[j].Importance
		}
		return ranked[i].ID < ranked[j].ID
	})

	dups := map[string]bool{}
	for i, canonical := range ranked {
		if dups[canonical.ID] {
			continue
		}
		for _, candidate := range ranked[i+1:] {
			if dups[candidate.ID] {
				continue
			}
			if embedding.CosineSimilarity(canonical.Embedding, candidate.Embedding) >= threshold {
				dups[candidate.ID] = true
			}
		}
	}
	return dups
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Runner executes maintenance passes against a store.
type Runner struct {
	store    Store
	logger   zerolog.Logger
	recorder Recorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l.With().Str("component", "lifecycle").Logger() }
}

// WithRecorder reports pass outcomes to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner creates a maintenance runner.
func NewRunner(s Store, opts ...Option) *Runner {
	r := &Runner{store: s, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one pass at time now. Connectivity is computed once from a
// snapshot, so the outcome does not depend on the order records are
// visited. A failed write is recorded in the result and the pass continues.
// Each write is based on the snapshot revision; a record changed or deleted
// since the snapshot is left alone and counted as a conflict.
func (r *Runner) Run(ctx context.Context, p Policy, now time.Time) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	g := graph.Build(snap.Records, snap.Edges)
	dups := map[string]bool{}
	if p.EnableDuplicateCleanup {
		dups = Duplicates(snap.Records, p.DuplicateSimilarityThreshold)
	}

	res := &Result{SchemaVersion: ResultSchemaVersion, Failures: []Failure{}}
	for _, rec := range snap.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.ScannedCount++

		var d Decision
		if dups[rec.ID] {
			d = duplicateOf(rec)
		} else {
			d = Evaluate(rec, !g.IsOrphan(rec.ID), p, now)
		}
		if d.Outcome == OutcomeExempt {
			res.IdentityExemptCount++
			continue
		}
		if d.Outcome == OutcomeUnchanged {
			res.UnchangedCount++
			continue
		}

		if _, err := r.store.AppendRevision(ctx, d.Record); err != nil {
			res.FailedCount++
			if errors.Is(err, store.ErrRevisionConflict) {
				res.ConflictCount++
			}
			res.Failures = append(res.Failures, Failure{
				ID:    rec.ID,
				Error: err.Error(),
				err:   fmt.Errorf("%w: %w", ErrMaintenanceRecordWrite, err),
			})
			r.logger.Warn().Err(err).Str("id", rec.ID).Msg("maintenance write failed")
			continue
		}

		if d.Decayed {
			res.DecayedCount++
		}
		switch d.Outcome {
		case OutcomePruned:
			res.PrunedCount++
		case OutcomeOrphaned:
			res.OrphanCleanedCount++
		case OutcomeDuplicate:
			res.DuplicateCleanedCount++
		}
	}

	status := "ok"
	if res.FailedCount > 0 {
		status = "partial"
	}
	if r.recorder != nil {
		r.recorder.RecordMaintenancePass(status, res.outcomes(), time.Since(started))
	}
	r.logger.Info().
		Int("scanned", res.ScannedCount).
		Int("decayed", res.DecayedCount).
		Int("pruned", res.PrunedCount).
		Int("orphan_cleaned", res.OrphanCleanedCount).
		Int("identity_exempt", res.IdentityExemptCount).
		Int("duplicate_cleaned", res.DuplicateCleanedCount).
		Int("failed", res.FailedCount).
		Int("conflict", res.ConflictCount).
		Msg("maintenance pass complete")

	return res, nil
}
