package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memkeeper/internal/config"
	"github.com/rcliao/memkeeper/internal/ingest"
	"github.com/rcliao/memkeeper/internal/lifecycle"
	"github.com/rcliao/memkeeper/internal/metrics"
	"github.com/rcliao/memkeeper/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled maintenance and directory ingestion",
		Long: `Run in the foreground until interrupted. Maintenance passes run on the
schedule.maintenance cron spec, ingest.dir is watched for new files, and
the Prometheus endpoint is exposed when metrics are enabled. Watched files go
through LLM extraction when llm.provider is set. With --config
the file is watched and lifecycle policy changes apply to the next pass.`,
		Run: runServe,
	}

	RootCmd.AddCommand(cmd)
}

// daemon holds the state shared by serve's background jobs.
type daemon struct {
	store   *store.SQLiteStore
	metrics *metrics.Manager
	logger  zerolog.Logger

	mu     sync.RWMutex
	policy lifecycle.Policy
}

func (d *daemon) currentPolicy() lifecycle.Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

func (d *daemon) setPolicy(p lifecycle.Policy) {
	d.mu.Lock()
	d.policy = p
	d.mu.Unlock()
}

// maintain runs one pass with the current policy.
func (d *daemon) maintain(ctx context.Context) {
	runner := lifecycle.NewRunner(d.store,
		lifecycle.WithLogger(d.logger),
		lifecycle.WithRecorder(d.metrics))

	res, err := runner.Run(ctx, d.currentPolicy(), time.Now())
	if err != nil {
		d.logger.Error().Err(err).Msg("scheduled maintenance failed")
		return
	}
	d.logger.Info().
		Int("scanned", res.ScannedCount).
		Int("decayed", res.DecayedCount).
		Int("pruned", res.PrunedCount).
		Int("orphan_cleaned", res.OrphanCleanedCount).
		Int("duplicate_cleaned", res.DuplicateCleanedCount).
		Int("failed", res.FailedCount).
		Int("conflict", res.ConflictCount).
		Msg("scheduled maintenance complete")
}

func (d *daemon) reload(c *config.Config) {
	d.setPolicy(c.Lifecycle)
	d.logger.Info().
		Float64("decay_rate", c.Lifecycle.DecayRate).
		Float64("prune_floor", c.Lifecycle.PruneFloor).
		Msg("lifecycle policy reloaded")
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := mustOpenStore()
	defer s.Close()

	d := &daemon{
		store:   s,
		metrics: metrics.NewManager(cfg.Metrics),
		logger:  logger.With().Str("component", "serve").Logger(),
		policy:  cfg.Lifecycle,
	}

	g, ctx := errgroup.WithContext(ctx)

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if spec := cfg.Schedule.Maintenance; spec != "" {
		if _, err := sched.AddFunc(spec, func() { d.maintain(ctx) }); err != nil {
			exitErr("schedule maintenance", err)
		}
		d.logger.Info().Str("spec", spec).Msg("maintenance scheduled")
	}
	sched.Start()

	if d.metrics.Enabled() {
		g.Go(func() error {
			d.logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint listening")
			return d.metrics.StartServer(ctx, cfg.Metrics.Addr, cfg.Metrics.Path)
		})
	}

	if dir := cfg.Ingest.Dir; dir != "" {
		opts := []ingest.Option{ingest.WithLogger(logger), ingest.WithRecorder(d.metrics)}
		extractOpt, err := extractorOption(cfg.LLM)
		if err != nil {
			exitErr("init extractor", err)
		}
		if extractOpt != nil {
			opts = append(opts, extractOpt)
			d.logger.Info().Str("provider", cfg.LLM.Provider).Msg("llm extraction enabled for watched directory")
		}
		ing := ingest.New(s, cfg.Ingest, opts...)
		g.Go(func() error {
			return ing.Watch(ctx, dir, func(sum ingest.Summary) {
				d.logger.Info().
					Int("processed_files", sum.ProcessedFiles).
					Int("chunks_ingested", sum.ChunksIngested).
					Int("failed_files", sum.FailedFiles).
					Msg("ingest pass complete")
			})
		})
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, flagOverrides(), d.reload, config.WithWatchLogger(logger))
		if err != nil {
			exitErr("watch config", err)
		}
		g.Go(func() error { return w.Watch(ctx) })
	}

	<-ctx.Done()
	<-sched.Stop().Done()
	if err := g.Wait(); err != nil {
		exitErr("serve", err)
	}
}
