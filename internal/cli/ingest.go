package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/chunker"
	"github.com/rcliao/memkeeper/internal/extract"
	"github.com/rcliao/memkeeper/internal/ingest"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest files into memory",
		Long: `Split supported text files (md, txt, json, jsonl, csv, tsv, log, xml,
yaml, yml, toml) into chunks and store one memory per chunk. A directory is
scanned non-recursively. Chunks already ingested are skipped. A file is
deleted once every chunk is stored unless --keep is given.`,
		Args: cobra.MaximumNArgs(1),
		Run:  runIngest,
	}

	cmd.Flags().Bool("watch", false, "Keep running and re-ingest the directory when it changes")
	cmd.Flags().Bool("llm", false, "Extract summaries and tags with the configured LLM provider")
	cmd.Flags().Bool("keep", false, "Keep source files after ingestion")
	cmd.Flags().String("chunk-mode", "", "Chunking mode: lines or markdown")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	watch, _ := cmd.Flags().GetBool("watch")
	useLLM, _ := cmd.Flags().GetBool("llm")
	keep, _ := cmd.Flags().GetBool("keep")
	mode, _ := cmd.Flags().GetString("chunk-mode")

	ingestCfg := cfg.Ingest
	if keep {
		ingestCfg.DeleteSource = false
	}
	switch chunker.Mode(mode) {
	case "":
	case chunker.ModeLines, chunker.ModeMarkdown:
		ingestCfg.ChunkMode = chunker.Mode(mode)
	default:
		exitErr("ingest", fmt.Errorf("unknown chunk mode %q", mode))
	}

	path := ingestCfg.Dir
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		exitErr("ingest", fmt.Errorf("path is required (argument or ingest.dir)"))
	}

	opts := []ingest.Option{ingest.WithLogger(logger)}
	if useLLM {
		opt, err := extractorOption(cfg.LLM)
		if err != nil {
			exitErr("init extractor", err)
		}
		if opt == nil {
			exitErr("init extractor", fmt.Errorf("llm.provider is not configured"))
		}
		opts = append(opts, opt)
	}

	s := mustOpenStore()
	defer s.Close()
	ing := ingest.New(s, ingestCfg, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		err := ing.Watch(ctx, path, func(sum ingest.Summary) { printResult(cmd, sum) })
		if err != nil {
			exitErr("watch", err)
		}
		return
	}

	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		res, err := ing.IngestFile(ctx, path)
		printResult(cmd, res)
		if err != nil {
			exitErr("ingest", err)
		}
		return
	}

	sum, err := ing.IngestDir(ctx, path)
	if err != nil {
		exitErr("ingest", err)
	}
	printResult(cmd, sum)
}

// extractorOption wires the configured extractor into an ingester. It
// returns nil when no provider is configured.
func extractorOption(c extract.Config) (ingest.Option, error) {
	ex, err := extract.New(c, logger)
	if err != nil || ex == nil {
		return nil, err
	}
	return ingest.WithExtractor(ex), nil
}
