package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Retrieve a memory",
		Long:  "Retrieve the latest active revision of a memory and mark it touched.",
		Args:  cobra.ExactArgs(1),
		Run:   runRead,
	}

	cmd.Flags().Bool("history", false, "Return all revisions (newest first), including deleted ones")
	cmd.Flags().Bool("peek", false, "Do not mark the memory as touched")

	RootCmd.AddCommand(cmd)
}

func runRead(cmd *cobra.Command, args []string) {
	history, _ := cmd.Flags().GetBool("history")
	peek, _ := cmd.Flags().GetBool("peek")

	s := mustOpenStore()
	defer s.Close()

	if history {
		revs, err := s.History(cmd.Context(), args[0])
		if err != nil {
			exitErr("read", err)
		}
		printResult(cmd, revs)
		return
	}

	read := s.Read
	if peek {
		read = s.Peek
	}
	rec, err := read(cmd.Context(), args[0])
	if err != nil {
		exitErr("read", err)
	}
	printResult(cmd, rec)
}
