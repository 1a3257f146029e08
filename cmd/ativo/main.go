package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ativo-labs/ativo/internal/advisor"
	"github.com/ativo-labs/ativo/pkg/knowledge"
	_ "modernc.org/sqlite"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Flags
	dataPath := flag.String("data", "", "Path to knowledge database file")
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ativo %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Resolve data path
	dp := *dataPath
	if dp == "" {
		dp = os.Getenv("ATIVO_DATA_PATH")
	}
	if dp == "" {
		dp = "ativo.db" // default: relative to cwd
	}

	// Open knowledge store
	kb, err := knowledge.Open(dp)
	if err != nil {
		slog.Error("failed to open knowledge store", "path", dp, "error", err)
		os.Exit(1)
	}
	defer kb.Close()

	slog.Info("ativo starting",
		"version", version,
		"data", dp,
		"snippets", kb.Stats().Snippets,
	)

	// Load config
	cp := *configPath
	if cp == "" {
		cp = os.Getenv("ATIVO_CONFIG_PATH")
	}

	cfg, err := advisor.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	// Create and start service
	a, err := advisor.New(kb, cfg)
	if err != nil {
		slog.Error("failed to create advisor", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("advisor error", "error", err)
		os.Exit(1)
	}

	slog.Info("ativo stopped")
}
