package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "relations <id>",
		Short: "Show the edges touching a memory",
		Long:  "List every edge into or out of a memory, with its connectivity. A connectivity of 0 marks an orphan.",
		Args:  cobra.ExactArgs(1),
		Run:   runRelations,
	}

	RootCmd.AddCommand(cmd)
}

type relationsView struct {
	ID           string           `json:"id"`
	Connectivity int              `json:"connectivity"`
	Orphan       bool             `json:"orphan"`
	Relations    []model.Relation `json:"relations"`
}

func runRelations(cmd *cobra.Command, args []string) {
	s := mustOpenStore()
	defer s.Close()

	rels, err := s.Relations(cmd.Context(), args[0])
	if err != nil {
		exitErr("relations", err)
	}
	n, err := s.Connectivity(cmd.Context(), args[0])
	if err != nil {
		exitErr("relations", err)
	}
	printResult(cmd, relationsView{ID: args[0], Connectivity: n, Orphan: n == 0, Relations: rels})
}
