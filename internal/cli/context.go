package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/search"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Rank memories for the description, then greedily pack them into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().IntP("limit", "l", 50, "Max candidates considered")
	cmd.Flags().Bool("no-touch", false, "Do not mark packed memories as touched")
	cmd.Flags().IntP("budget", "b", search.DefaultContextBudget, "Max tokens in output")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	budget, _ := cmd.Flags().GetInt("budget")

	s := mustOpenStore()
	defer s.Close()

	searcher := newSearcher(s)
	result, err := searcher.Context(cmd.Context(), strings.Join(args, " "), budget, searchOptions(cmd))
	if err != nil {
		exitErr("context", err)
	}
	printResult(cmd, result)
}
