package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "checkpoints <path>",
		Short: "List ingestion checkpoints for a source file",
		Args:  cobra.ExactArgs(1),
		Run:   runCheckpoints,
	}

	RootCmd.AddCommand(cmd)
}

func runCheckpoints(cmd *cobra.Command, args []string) {
	path, err := filepath.Abs(args[0])
	if err != nil {
		exitErr("checkpoints", err)
	}

	s := mustOpenStore()
	defer s.Close()

	cps, err := s.Checkpoints(cmd.Context(), path)
	if err != nil {
		exitErr("checkpoints", err)
	}
	if cps == nil {
		cps = []model.Checkpoint{}
	}
	printResult(cmd, cps)
}
