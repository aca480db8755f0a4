// Package cli implements the memkeeper CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memkeeper/internal/config"
	"github.com/rcliao/memkeeper/internal/embedding"
	"github.com/rcliao/memkeeper/internal/logging"
	"github.com/rcliao/memkeeper/internal/search"
	"github.com/rcliao/memkeeper/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

var (
	dbPath     string
	configPath string
	outputFlag string
	logLevel   string

	cfg    *config.Config
	logger = zerolog.Nop()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:              "memkeeper",
	Short:            "Long-term memory for agents",
	Long:             "Append-only memory records with importance decay, relation-aware pruning, file ingestion, and ranked recall. SQLite-backed, single binary.",
	PersistentPreRun: loadConfig,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMKEEPER_DB or ~/.memkeeper/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml or json)")
	RootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "json", "Output format: json or yaml")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// flagOverrides maps global flags onto config keys.
func flagOverrides() map[string]any {
	overrides := map[string]any{}
	if dbPath != "" {
		overrides["db_path"] = dbPath
	}
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	return overrides
}

func loadConfig(cmd *cobra.Command, args []string) {
	c, err := config.Load(configPath, flagOverrides())
	if err != nil {
		exitErr("load config", err)
	}
	l, err := logging.New(c.Log)
	if err != nil {
		exitErr("init logger", err)
	}
	cfg, logger = c, l
}

func openStore() (*store.SQLiteStore, error) {
	profile, err := cfg.ImportanceProfile()
	if err != nil {
		return nil, err
	}
	e, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.DBPath,
		store.WithImportanceProfile(profile),
		store.WithEmbedder(e),
		store.WithLogger(logger))
}

// newSearcher builds a searcher with the configured weights and embedder.
func newSearcher(s search.Store) *search.Searcher {
	e, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		exitErr("init embedder", err)
	}
	return search.New(s,
		search.WithWeights(cfg.Search),
		search.WithEmbedder(e),
		search.WithLogger(logger))
}

func mustOpenStore() *store.SQLiteStore {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	return s
}

// printResult writes v to the command output in the selected format. YAML
// is produced from the JSON encoding so both formats share field names.
func printResult(cmd *cobra.Command, v any) {
	out := cmd.OutOrStdout()
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode json", err)
	}
	if outputFlag != "yaml" {
		fmt.Fprintln(out, string(b))
		return
	}

	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		exitErr("encode yaml", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		exitErr("encode yaml", err)
	}
	_ = enc.Close()
}

// blockStyle drops the flow and quoting styles carried over from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// readContent returns args joined, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return ""
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
