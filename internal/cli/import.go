package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from JSON",
		Long:  "Import memories from a file or stdin. Expects the format produced by export. Relations to records that are missing are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open import file", err)
		}
		defer f.Close()
		r = f
	}

	var exp store.Export
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		exitErr("parse json", err)
	}

	s := mustOpenStore()
	defer s.Close()

	res, err := s.Import(cmd.Context(), &exp)
	if err != nil {
		exitErr("import", err)
	}
	printResult(cmd, res)
}
