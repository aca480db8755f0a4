package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/store"
)

func init() {
	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "Memory type information",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List memory types with default importance and active counts",
		Run:   runTypesList,
	}

	typesCmd.AddCommand(listCmd)
	RootCmd.AddCommand(typesCmd)
}

type typeRow struct {
	MemoryType        model.MemoryType `json:"memory_type" yaml:"memory_type"`
	DefaultImportance float64          `json:"default_importance" yaml:"default_importance"`
	Exempt            bool             `json:"exempt" yaml:"exempt"`
	Count             int              `json:"count" yaml:"count"`
	AvgImportance     float64          `json:"avg_importance" yaml:"avg_importance"`
}

func runTypesList(cmd *cobra.Command, args []string) {
	s := mustOpenStore()
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("list types", err)
	}
	printResult(cmd, typeRows(s.Profile(), stats.ByType))
}

func typeRows(profile model.ImportanceProfile, byType []store.TypeStats) []typeRow {
	counts := make(map[model.MemoryType]store.TypeStats, len(byType))
	for _, ts := range byType {
		counts[model.MemoryType(ts.MemoryType)] = ts
	}
	rows := make([]typeRow, 0, len(model.MemoryTypes))
	for _, t := range model.MemoryTypes {
		rows = append(rows, typeRow{
			MemoryType:        t,
			DefaultImportance: profile.For(t),
			Exempt:            model.Record{MemoryType: t}.Exempt(),
			Count:             counts[t].Count,
			AvgImportance:     counts[t].AvgImportance,
		})
	}
	return rows
}
