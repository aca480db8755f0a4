package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memkeeper/internal/chunker"
	"github.com/rcliao/memkeeper/internal/model"
)

// isolate keeps a developer's home config out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".memkeeper", "memory.db"), cfg.DBPath)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 0.05, cfg.Lifecycle.DecayRate, 1e-9)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.StaleAfter)
	assert.True(t, cfg.Lifecycle.EnableOrphanCleanup)
	assert.Equal(t, chunker.ModeLines, cfg.Ingest.ChunkMode)
	assert.Equal(t, 40, cfg.Ingest.LineCount)
	assert.True(t, cfg.Ingest.DeleteSource)
	assert.InDelta(t, 1.2, cfg.Search.K1, 1e-9)
	assert.Equal(t, "@every 6h", cfg.Schedule.Maintenance)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.LLM.Provider)
	assert.Empty(t, cfg.Embedding.Provider)
	assert.Equal(t, 128, cfg.Embedding.Dimensions)
	assert.Equal(t, "lexical", cfg.Search.Mode)
	assert.InDelta(t, 0.55, cfg.Search.MinSimilarity, 1e-9)
	assert.False(t, cfg.Lifecycle.EnableDuplicateCleanup)
	assert.InDelta(t, 0.95, cfg.Lifecycle.DuplicateSimilarityThreshold, 1e-9)
}

func TestLoadRejectsUnknownSearchMode(t *testing.T) {
	isolate(t)
	_, err := Load("", map[string]any{"search.mode": "semantic"})
	assert.Error(t, err)

	_, err = Load("", map[string]any{"embedding.provider": "word2vec"})
	assert.Error(t, err)

	cfg, err := Load("", map[string]any{"search.mode": "hybrid", "embedding.provider": "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "hybrid", cfg.Search.Mode)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "memkeeper.yaml", `
db_path: /tmp/mk.db
lifecycle:
  decay_rate: 0.2
  stale_after: 12h
ingest:
  chunk_mode: markdown
importance:
  observation: 0.4
llm:
  provider: openai
  model: gpt-test
`)
	t.Setenv("MEMKEEPER_LIFECYCLE__PRUNE_FLOOR", "0.3")
	t.Setenv("MEMKEEPER_LOG_LEVEL", "debug")
	t.Setenv("MEMKEEPER_INGEST__DELETE_SOURCE", "false")

	cfg, err := Load(path, map[string]any{"lifecycle.decay_rate": 0.25})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mk.db", cfg.DBPath)
	assert.InDelta(t, 0.25, cfg.Lifecycle.DecayRate, 1e-9)
	assert.InDelta(t, 0.3, cfg.Lifecycle.PruneFloor, 1e-9)
	assert.InDelta(t, 0.2, cfg.Lifecycle.OrphanImportanceThreshold, 1e-9)
	assert.Equal(t, 12*time.Hour, cfg.Lifecycle.StaleAfter)
	assert.Equal(t, chunker.ModeMarkdown, cfg.Ingest.ChunkMode)
	assert.Equal(t, 40, cfg.Ingest.LineCount)
	assert.False(t, cfg.Ingest.DeleteSource)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-test", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)

	profile, err := cfg.ImportanceProfile()
	require.NoError(t, err)
	assert.InDelta(t, 0.4, profile.For(model.TypeObservation), 1e-9)
	assert.InDelta(t, 0.9, profile.For(model.TypeGoal), 1e-9)
}

func TestLoadJSON(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "memkeeper.json", `{"search": {"graph_weight": 0.5}}`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cfg.Search.GraphWeight, 1e-9)
	assert.InDelta(t, 0.5, cfg.Search.ImportanceWeight, 1e-9)
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	cases := map[string]string{
		"decay out of range": "lifecycle:\n  decay_rate: 1.5\n",
		"unknown provider":   "llm:\n  provider: bard\n",
		"unknown chunk mode": "ingest:\n  chunk_mode: words\n",
		"bad importance":     "importance:\n  gossip: 0.5\n",
		"importance range":   "importance:\n  fact: 2\n",
		"bad cron":           "schedule:\n  maintenance: every day\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "memkeeper.yaml", body), nil)
			require.Error(t, err)
			var details ValidationErrors
			assert.True(t, errors.As(err, &details), "expected ValidationErrors, got %T", err)
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	isolate(t)
	_, err := Load(writeConfig(t, "memkeeper.ini", "x=1"), nil)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "lifecycle.decay_rate", envKey("MEMKEEPER_LIFECYCLE__DECAY_RATE"))
	assert.Equal(t, "db_path", envKey("MEMKEEPER_DB_PATH"))
	assert.Equal(t, "db_path", envKey("MEMKEEPER_DB"))
	assert.Equal(t, "log.level", envKey("MEMKEEPER_LOG_LEVEL"))
}

func TestWatcherReloads(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "memkeeper.yaml", "lifecycle:\n  decay_rate: 0.1\n")

	changes := make(chan *Config, 16)
	w, err := NewWatcher(path, nil, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("lifecycle:\n  decay_rate: 0.4\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for observed := false; !observed; {
		select {
		case cfg := <-changes:
			observed = cfg.Lifecycle.DecayRate == 0.4
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNewWatcherRequiresPath(t *testing.T) {
	_, err := NewWatcher("", nil, nil)
	require.Error(t, err)
}
