package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/fenggwsx/StayChat/internal/api"
	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/logging"
	"github.com/fenggwsx/StayChat/internal/server"
	"github.com/fenggwsx/StayChat/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "staychat-server: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	store, err := sqlite.NewStore(cfg.Database, logging.Component(logger, "sqlite"))
	if err != nil {
		logger.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate storage")
	}

	reg := prometheus.NewRegistry()
	var gatherer prometheus.Gatherer
	if cfg.Metrics {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gatherer = reg
	}

	relay := server.NewServer(cfg.Relay, logger, server.NewMetrics(reg))
	if !cfg.Relay.StrictIdentity {
		logger.Warn().Msg("user room identity checks disabled; any connection may join any user room")
	}

	app := api.New(api.Options{
		Config:      cfg,
		Store:       store,
		Coordinator: dispatch.NewCoordinator(store, relay, logger),
		Relay:       relay,
		Logger:      logger,
		Gatherer:    gatherer,
	})

	logger.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.Database.Path).Msg("staychat server listening")
	if err := app.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
