// Package config loads memkeeper configuration from defaults, files,
// environment variables, and command-line overrides.
package config

import (
	"math"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memkeeper/internal/embedding"
	"github.com/rcliao/memkeeper/internal/extract"
	"github.com/rcliao/memkeeper/internal/ingest"
	"github.com/rcliao/memkeeper/internal/lifecycle"
	"github.com/rcliao/memkeeper/internal/logging"
	"github.com/rcliao/memkeeper/internal/metrics"
	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/search"
)

// Config is the complete memkeeper configuration.
type Config struct {
	DBPath     string             `koanf:"db_path" validate:"required"`
	Log        logging.Options    `koanf:"log"`
	Lifecycle  lifecycle.Policy   `koanf:"lifecycle"`
	Ingest     ingest.Config      `koanf:"ingest"`
	Search     search.Weights     `koanf:"search"`
	Importance map[string]float64 `koanf:"importance"`
	LLM        extract.Config     `koanf:"llm"`
	Embedding  embedding.Config   `koanf:"embedding"`
	Metrics    metrics.Config     `koanf:"metrics"`
	Schedule   Schedule           `koanf:"schedule"`
}

// Schedule holds cron specs for background jobs run by serve. An empty spec
// disables the job.
type Schedule struct {
	Maintenance string `koanf:"maintenance"`
}

// DefaultDBPath returns ~/.memkeeper/memory.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memkeeper", "memory.db")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		DBPath:    DefaultDBPath(),
		Log:       logging.DefaultOptions(),
		Lifecycle: lifecycle.DefaultPolicy(),
		Ingest:    ingest.DefaultConfig(),
		Search:    search.DefaultWeights(),
		LLM:       extract.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Metrics:   metrics.DefaultConfig(),
		Schedule:  Schedule{Maintenance: "@every 6h"},
	}
}

// ImportanceProfile merges the configured per-type importance over the
// built-in defaults.
func (c *Config) ImportanceProfile() (model.ImportanceProfile, error) {
	profile := model.ImportanceProfile{}
	for name, v := range c.Importance {
		t, ok := model.ParseMemoryType(name)
		if !ok {
			return nil, goerr.New("unknown memory type in importance profile", goerr.V("memory_type", name))
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, goerr.New("importance out of range", goerr.V("memory_type", name), goerr.V("importance", v))
		}
		profile[t] = v
	}
	if err := mergo.Merge(&profile, model.DefaultImportanceProfile()); err != nil {
		return nil, goerr.Wrap(err, "merge importance profile")
	}
	return profile, nil
}
