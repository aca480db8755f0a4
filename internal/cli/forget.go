package cli

import (
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "forget <id>",
		Short: "Soft-delete a memory",
		Long:  "Soft-delete a memory. A deleted revision is appended; history is kept.",
		Args:  cobra.ExactArgs(1),
		Run:   runForget,
	}

	cmd.Flags().String("reason", model.DeletedManual, "Deletion reason: "+strings.Join(deleteReasons(), ", "))

	RootCmd.AddCommand(cmd)
}

func runForget(cmd *cobra.Command, args []string) {
	reason, _ := cmd.Flags().GetString("reason")
	if err := checkDeleteReason(reason); err != nil {
		exitErr("forget", err)
	}

	s := mustOpenStore()
	defer s.Close()

	if err := s.SoftDelete(cmd.Context(), args[0], reason); err != nil {
		exitErr("forget", err)
	}
	printResult(cmd, map[string]any{"id": args[0], "deleted": true, "reason": reason})
}

func deleteReasons() []string {
	reasons := make([]string, 0, len(model.ValidDeleteReasons))
	for r := range model.ValidDeleteReasons {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	return reasons
}

func checkDeleteReason(reason string) error {
	if !model.ValidDeleteReasons[reason] {
		return goerr.New("unknown delete reason", goerr.V("reason", reason), goerr.V("allowed", deleteReasons()))
	}
	return nil
}
