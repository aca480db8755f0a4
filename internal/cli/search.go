package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/search"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long: `Rank active memories by BM25 relevance, embedding similarity, or both
fused by reciprocal rank, boosted by importance and relation connectivity.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("no-touch", false, "Do not mark results as touched")
	cmd.Flags().String("mode", "", "Retrieval mode: lexical, vector or hybrid (default search.mode)")

	RootCmd.AddCommand(cmd)
}

func searchOptions(cmd *cobra.Command) search.Options {
	memType, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	noTouch, _ := cmd.Flags().GetBool("no-touch")
	return search.Options{
		Limit:      limit,
		MemoryType: model.MemoryType(memType),
		Tags:       splitTags(tagsStr),
		NoTouch:    noTouch,
	}
}

func runSearch(cmd *cobra.Command, args []string) {
	switch mode, _ := cmd.Flags().GetString("mode"); mode {
	case "":
	case search.ModeLexical, search.ModeVector, search.ModeHybrid:
		cfg.Search.Mode = mode
	default:
		exitErr("search", fmt.Errorf("unknown mode %q", mode))
	}

	s := mustOpenStore()
	defer s.Close()

	searcher := newSearcher(s)
	results, err := searcher.Search(cmd.Context(), strings.Join(args, " "), searchOptions(cmd))
	if err != nil {
		exitErr("search", err)
	}
	printResult(cmd, results)
}
