package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/use-agent/bizcrawl/config"
	"github.com/use-agent/bizcrawl/export"
	"github.com/use-agent/bizcrawl/fetcher"
	"github.com/use-agent/bizcrawl/pipeline"
)

func main() {
	maxRecords := flag.Int("max", 0, "cap on detail-enriched records (0 = configured default)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] SEARCH TERM...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	term := strings.TrimSpace(strings.Join(flag.Args(), " "))

	// ── 1. Load configuration ───────────────────────────────────────
	_ = godotenv.Load()
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("bizcrawl starting", "term", term, "searchURL", cfg.Crawl.SearchURL)

	// ── 3. Wire the pipeline ────────────────────────────────────────
	// The session factory launches a fresh browser per run, so every run
	// gets an independently scoped session.
	newSession := func() (pipeline.Session, error) {
		return fetcher.New(cfg.Browser)
	}
	exporter := export.New(cfg.Export)
	pipe := pipeline.New(cfg.Crawl, newSession, exporter)

	// ── 4. Run ──────────────────────────────────────────────────────
	outcome, err := pipe.Run(context.Background(), term, *maxRecords)
	if err != nil {
		slog.Error("run failed", "error", err)
		if outcome == nil {
			os.Exit(1)
		}
		// A partial outcome was still exported; report it before exiting.
	}

	fmt.Printf("found %d, returned %d, errors %d\n", outcome.Found, outcome.Returned, outcome.Errored)
	if outcome.OutputPath != "" {
		fmt.Printf("wrote %s\n", outcome.OutputPath)
	}
	for _, e := range outcome.Errors {
		fmt.Printf("  error: record %d (%s): %s\n", e.Index, e.Ref, e.Message)
	}

	if err != nil || !outcome.Complete() {
		os.Exit(1)
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
