// Command crownfall runs the persistent world simulation server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"crownfall/internal/api"
	"crownfall/internal/config"
	"crownfall/internal/observability"
	"crownfall/internal/sim"
	"crownfall/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "world config file (YAML); empty uses the built-in world")
		dbPath     = flag.String("db", "", "database path override")
		listenAddr = flag.String("addr", "", "API listen address override")
		seed       = flag.Int64("seed", 0, "world seed override (0 keeps the configured seed)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.World.DBPath = *dbPath
	}
	if *listenAddr != "" {
		cfg.World.ListenAddr = *listenAddr
	}
	if *seed != 0 {
		cfg.World.Seed = *seed
	}

	if dir := filepath.Dir(cfg.World.DBPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	st, err := store.Open(cfg.World.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.World.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("database opened", "path", cfg.World.DBPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.New(registry)

	world, err := sim.New(cfg, st, metrics)
	if err != nil {
		slog.Error("failed to build world", "error", err)
		os.Exit(1)
	}
	slog.Info("world ready", "tick", world.Tick(), "seed", cfg.World.Seed)

	server := &api.Server{World: world, Addr: cfg.World.ListenAddr, Registry: registry}
	server.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := world.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("world halted", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete", "tick", world.Tick())
}
