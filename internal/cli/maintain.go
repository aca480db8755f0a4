package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rcliao/memkeeper/internal/lifecycle"
)

func init() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance pass",
		Long: `Decay the importance of every non-identity memory, prune records that fall
below the floor, and optionally remove weakly important records with no
relations to other active records or near copies of a more important record.
Flags override the configured policy.`,
		Run: runMaintain,
	}

	def := lifecycle.DefaultPolicy()
	cmd.Flags().Float64("decay-rate", def.DecayRate, "Fraction of importance removed per pass")
	cmd.Flags().Float64("prune-floor", def.PruneFloor, "Prune records whose importance falls below this")
	cmd.Flags().Float64("orphan-threshold", def.OrphanImportanceThreshold, "Importance below which orphans are removed")
	cmd.Flags().Bool("orphan-cleanup", def.EnableOrphanCleanup, "Remove weakly important records with no relations")
	cmd.Flags().Duration("stale-after", def.StaleAfter, "Skip decay for records touched within this window")
	cmd.Flags().Bool("duplicate-cleanup", def.EnableDuplicateCleanup, "Remove records nearly identical to a more important one")
	cmd.Flags().Float64("duplicate-threshold", def.DuplicateSimilarityThreshold, "Embedding similarity at which records count as duplicates")

	RootCmd.AddCommand(cmd)
}

// policyFromFlags applies explicitly set flags over base.
func policyFromFlags(flags *pflag.FlagSet, base lifecycle.Policy) lifecycle.Policy {
	p := base
	if flags.Changed("decay-rate") {
		p.DecayRate, _ = flags.GetFloat64("decay-rate")
	}
	if flags.Changed("prune-floor") {
		p.PruneFloor, _ = flags.GetFloat64("prune-floor")
	}
	if flags.Changed("orphan-threshold") {
		p.OrphanImportanceThreshold, _ = flags.GetFloat64("orphan-threshold")
	}
	if flags.Changed("orphan-cleanup") {
		p.EnableOrphanCleanup, _ = flags.GetBool("orphan-cleanup")
	}
	if flags.Changed("stale-after") {
		p.StaleAfter, _ = flags.GetDuration("stale-after")
	}
	if flags.Changed("duplicate-cleanup") {
		p.EnableDuplicateCleanup, _ = flags.GetBool("duplicate-cleanup")
	}
	if flags.Changed("duplicate-threshold") {
		p.DuplicateSimilarityThreshold, _ = flags.GetFloat64("duplicate-threshold")
	}
	return p
}

func runMaintain(cmd *cobra.Command, args []string) {
	p := policyFromFlags(cmd.Flags(), cfg.Lifecycle)

	s := mustOpenStore()
	defer s.Close()

	res, err := lifecycle.NewRunner(s, lifecycle.WithLogger(logger)).Run(cmd.Context(), p, time.Now())
	if err != nil {
		exitErr("maintain", err)
	}
	printResult(cmd, res)
}
