package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/export"
	"github.com/joseph-ayodele/car-analyzer/internal/ingest"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	// Parse CLI flags
	var (
		dir        = flag.String("dir", "", "directory of car photos to analyze (required)")
		out        = flag.String("out", "", "output XLSX file path (optional, defaults to <dir>/../cars.xlsx)")
		skipHidden = flag.Bool("skip-hidden", true, "skip dot files and dot directories")
		watch      = flag.Bool("watch", false, "after the initial pass, keep analyzing new photos until interrupted")
	)
	flag.Parse()

	// Validate required flags
	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(2)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "cars.xlsx")
	}

	cfg := common.LoadConfig()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	logger.Info("config.loaded",
		"model", cfg.LLM.Model,
		"base_url", cfg.LLM.BaseURL,
		"api_key", common.MaskSecret(cfg.LLM.APIKey),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer := pipeline.NewFromConfig(cfg, logger)
	u := ingest.NewUsecase(analyzer, cfg.Server.MaxUploadBytes, logger)

	logger.Info("batch.start", "dir", *dir, "output", *out)
	results, stats, err := u.AnalyzeDirectory(ctx, *dir, *skipHidden)
	switch {
	case errors.Is(err, common.ErrConfig):
		printError("Error: %v\nSet OPENAI_API_KEY in the environment or a .env file.\n", err)
		os.Exit(2)
	case errors.Is(err, context.Canceled):
		logger.Warn("batch.interrupted", "analyzed", len(results))
	case err != nil:
		logger.Error("batch.walk_failed", "error", err)
		os.Exit(1)
	}

	rows := make([]export.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, export.RowFromResult(r))
	}

	if *watch && ctx.Err() == nil {
		// Rows are kept in memory until shutdown; the report is written once.
		err := u.Watch(ctx, ingest.WatchConfig{Roots: []string{*dir}, SkipHidden: *skipHidden}, func(r ingest.FileResult) {
			rows = append(rows, export.RowFromResult(r))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("batch.watch_failed", "error", err)
		}
	}

	// Export to XLSX
	xlsx, err := export.NewService(logger).ReportXLSX(context.Background(), rows)
	if err != nil {
		logger.Error("failed to build report", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	failures := 0
	for _, r := range rows {
		if r.Status.Failed() {
			failures++
		}
	}
	logger.Info("batch.done",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"rows", len(rows),
		"failures", failures,
		"output_file", *out,
	)

	fmt.Printf("Batch complete!\n")
	fmt.Printf("- Photos analyzed: %d\n", len(rows))
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
}
