package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/lifecycle"
	"github.com/rcliao/memkeeper/internal/mcpserver"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over MCP stdio",
		Long:  "Expose write, read, search, relate, forget and maintain as MCP tools on stdin/stdout. Logs go to stderr or log.file.",
		Run:   runMCP,
	}

	RootCmd.AddCommand(cmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := mustOpenStore()
	defer s.Close()

	srv := mcpserver.New(s,
		newSearcher(s),
		lifecycle.NewRunner(s, lifecycle.WithLogger(logger)),
		Version,
		mcpserver.WithPolicy(cfg.Lifecycle),
		mcpserver.WithLogger(logger))

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		exitErr("mcp", err)
	}
}
