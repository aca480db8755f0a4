// Package lifecycle runs maintenance passes that decay, prune,
// orphan-clean and deduplicate memory records.
package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrPolicyValidation is returned before any record is read when the
	// policy is out of range.
	ErrPolicyValidation = goerr.New("invalid lifecycle policy")
	// ErrMaintenanceRecordWrite marks a per-record persistence failure.
	ErrMaintenanceRecordWrite = goerr.New("maintenance record write failed")
)

var validate = validator.New()

// Policy configures a maintenance pass.
type Policy struct {
	// DecayRate is the fraction of importance removed per pass.
	DecayRate float64 `json:"decay_rate" yaml:"decay_rate" koanf:"decay_rate" validate:"gte=0,lte=1"`
	// PruneFloor soft-deletes any record whose decayed importance falls below it.
	PruneFloor float64 `json:"prune_floor" yaml:"prune_floor" koanf:"prune_floor" validate:"gte=0,lte=1"`
	// OrphanImportanceThreshold soft-deletes orphans below it when
	// EnableOrphanCleanup is set.
	OrphanImportanceThreshold float64 `json:"orphan_importance_threshold" yaml:"orphan_importance_threshold" koanf:"orphan_importance_threshold" validate:"gte=0,lte=1"`
	EnableOrphanCleanup       bool    `json:"enable_orphan_cleanup" yaml:"enable_orphan_cleanup" koanf:"enable_orphan_cleanup"`
	// StaleAfter skips decay for records touched within this window. Zero
	// decays every record on every pass.
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after" koanf:"stale_after" validate:"gte=0"`
	// EnableDuplicateCleanup soft-deletes records whose embedding is at
	// least DuplicateSimilarityThreshold similar to a more important one.
	EnableDuplicateCleanup       bool    `json:"enable_duplicate_cleanup" yaml:"enable_duplicate_cleanup" koanf:"enable_duplicate_cleanup"`
	DuplicateSimilarityThreshold float64 `json:"duplicate_similarity_threshold" yaml:"duplicate_similarity_threshold" koanf:"duplicate_similarity_threshold" validate:"gte=0,lte=1"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		DecayRate:                 0.05,
		PruneFloor:                0.05,
		OrphanImportanceThreshold: 0.2,
		EnableOrphanCleanup:       true,
		StaleAfter:                24 * time.Hour,

		DuplicateSimilarityThreshold: 0.95,
	}
}

// Validate checks that every threshold is finite and within [0,1].
func (p Policy) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"decay_rate", p.DecayRate},
		{"prune_floor", p.PruneFloor},
		{"orphan_importance_threshold", p.OrphanImportanceThreshold},
		{"duplicate_similarity_threshold", p.DuplicateSimilarityThreshold},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return goerr.Wrap(ErrPolicyValidation, f.name+" must be finite", goerr.V(f.name, f.value))
		}
	}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
			return goerr.Wrap(ErrPolicyValidation, msg, goerr.V("value", fe.Value()))
		}
		return goerr.Wrap(ErrPolicyValidation, err.Error())
	}
	return nil
}
