package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "relate <from-id> <to-id>",
		Short: "Create or remove a relation between memories",
		Long:  "Create a weighted edge between two active memories. Both must exist.",
		Args:  cobra.ExactArgs(2),
		Run:   runRelate,
	}

	cmd.Flags().StringP("kind", "k", model.RelRelatesTo, "Relation: relates_to, depends_on, supports, blocks, references")
	cmd.Flags().Float64P("weight", "w", 1.0, "Edge weight in (0,1]")
	cmd.Flags().Bool("rm", false, "Remove the relation")

	RootCmd.AddCommand(cmd)
}

func runRelate(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	weight, _ := cmd.Flags().GetFloat64("weight")
	rm, _ := cmd.Flags().GetBool("rm")

	s := mustOpenStore()
	defer s.Close()

	if rm {
		if err := s.RemoveRelation(cmd.Context(), args[0], args[1], kind); err != nil {
			exitErr("relate", err)
		}
		printResult(cmd, map[string]any{"from_id": args[0], "to_id": args[1], "kind": kind, "removed": true})
		return
	}

	rel, err := s.AddRelation(cmd.Context(), args[0], args[1], kind, weight)
	if err != nil {
		exitErr("relate", err)
	}
	printResult(cmd, rel)
}
