package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long:  "List the latest revision of each memory, most recently updated first.",
		Run:   runList,
	}

	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated, all must match)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("all", false, "Include soft-deleted memories")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s := mustOpenStore()
	defer s.Close()

	records, err := s.List(cmd.Context(), store.ListParams{
		MemoryType:     model.MemoryType(memType),
		Tags:           splitTags(tagsStr),
		Limit:          limit,
		IncludeDeleted: all,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, r := range records {
			fmt.Fprintln(cmd.OutOrStdout(), r.ID)
		}
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	printResult(cmd, records)
}
