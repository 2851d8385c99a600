package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"partsbin/internal"
	"partsbin/internal/config"
	"partsbin/internal/pipeline"
	"partsbin/internal/server"
	"partsbin/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	switch os.Args[1] {
	case "serve":
		err = runServe(cfg, log)
	case "preview":
		err = runPreview(cfg, log, os.Args[2:])
	case "import":
		err = runImport(cfg, log, os.Args[2:])
	case "export:review":
		err = runExportReview(cfg, log, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: partsbin <command>

commands:
  serve                      start the HTTP server
  preview <file>             parse an order-history document and print the preview
  import <file> [flags]      parse and commit an order-history document
  export:review <out.xlsx>   export items flagged for manual review`)
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	return log
}

func runServe(cfg *config.Config, log *zap.Logger) error {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, db, log).Run(ctx)
}

// stderrSink prints progress events for the one-shot commands so a long
// parse is visibly alive.
type stderrSink struct{}

func (stderrSink) Emit(evt pipeline.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "[%s] orders=%d items=%d images=%d\n", evt.Stage, evt.Orders, evt.Items, evt.Images)
}

func buildPreviewer(cfg *config.Config, log *zap.Logger) *pipeline.Previewer {
	parser := pipeline.NewParser(log)
	stager := pipeline.NewImageStager(
		cfg.ImageDir,
		cfg.ImageFetchRPS,
		cfg.ImageFetchWorkers,
		time.Duration(cfg.ImageFetchTimeoutMs)*time.Millisecond,
		log,
	)
	return pipeline.NewPreviewer(parser, stager, log)
}

func runPreview(cfg *config.Config, log *zap.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("preview: missing document path")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ParseTimeoutSec)*time.Second)
	defer cancel()

	orders, stats, err := buildPreviewer(cfg, log).Preview(ctx, raw, stderrSink{})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{"preview": orders, "statistics": stats})
}

func runImport(cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	allowDuplicates := fs.Bool("allow-duplicates", false, "import orders that already exist")
	noCreate := fs.Bool("no-create", false, "never create catalog components")
	noUpdate := fs.Bool("no-update", false, "never update existing components")
	noTitleMatch := fs.Bool("no-title-match", false, "skip exact-title matching")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("import: missing document path")
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ParseTimeoutSec+cfg.CommitTimeoutSec)*time.Second)
	defer cancel()

	orders, _, err := buildPreviewer(cfg, log).Preview(ctx, raw, stderrSink{})
	if err != nil {
		return err
	}

	opts := internal.DefaultImportOptions()
	opts.AllowDuplicates = *allowDuplicates
	opts.CreateComponents = !*noCreate
	opts.UpdateExisting = !*noUpdate
	opts.MatchByTitle = !*noTitleMatch

	result, err := pipeline.NewReconciler(db, cfg.ReviewThreshold, log).Commit(ctx, orders, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runExportReview(cfg *config.Config, log *zap.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("export:review: missing output path")
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	count, err := pipeline.ExportReviewSheet(db, args[0], 0)
	if err != nil {
		return err
	}
	log.Info("review sheet written", zap.String("path", args[0]), zap.Int("rows", count))
	return nil
}
