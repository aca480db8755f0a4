package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export the latest revision of every active memory and the relations among them.",
		Run:   runExport,
	}

	cmd.Flags().String("type", "", "Filter by memory type")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")

	s := mustOpenStore()
	defer s.Close()

	exp, err := s.ExportAll(cmd.Context(), model.MemoryType(memType))
	if err != nil {
		exitErr("export", err)
	}
	printResult(cmd, exp)
}
