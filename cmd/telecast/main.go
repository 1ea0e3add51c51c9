package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acossette/telecast/internal/broadcast"
	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/engine"
	"github.com/acossette/telecast/internal/epoch"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/metrics"
	"github.com/acossette/telecast/internal/playback"
	"github.com/acossette/telecast/internal/player"
	"github.com/acossette/telecast/internal/retry"
	"github.com/acossette/telecast/internal/server"
	"github.com/acossette/telecast/internal/session"
	"github.com/acossette/telecast/internal/status"
	"github.com/acossette/telecast/internal/syncer"
	"github.com/acossette/telecast/internal/watchdog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", false)
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	logger.Log.Info().Msg("Telecast pseudo-live broadcast engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Session.Path), 0o755); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	db, err := session.Open(cfg.Session.Path)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open session database")
	}
	defer db.Close() // nolint:errcheck

	if err := db.Migrate(cfg.Session.MigrationsPath); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	policy := retry.Policy{
		Base:     cfg.Sync.RetryBase,
		Cap:      cfg.Sync.RetryCap,
		Attempts: cfg.Sync.RetryAttempts,
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	bus := status.NewBus()

	oracle := epoch.NewOracle(
		cfg.Authority.BaseURL,
		cfg.Authority.EpochFetchTimeout,
		cfg.Authority.EpochCacheTTL,
		policy,
	)

	var source catalog.Source
	if cfg.Authority.CatalogPath != "" {
		source = catalog.NewFileSource(cfg.Authority.CatalogPath)
	} else {
		source = catalog.NewHTTPSource(
			cfg.Authority.BaseURL+"/catalog",
			cfg.Authority.CatalogFetchTimeout,
			policy,
		)
	}
	loader := catalog.NewLoader(source)

	manager := broadcast.NewManager(oracle)
	fetcher := syncer.NewHTTPChecksumFetcher(cfg.Authority.BaseURL, cfg.Authority.ChecksumTimeout, policy)
	sync := syncer.New(fetcher, loader, oracle, manager, bus, m, cfg.Sync.Interval, cfg.Sync.StaleThreshold)

	sim := player.NewSim(1.0)
	defer sim.Close()

	pb := playback.New(sim, manager, bus, m, sync, cfg.Playback, oracle.Now)
	dog := watchdog.New(pb, sync, bus, m, cfg.Watchdog, oracle.Now)
	store := session.NewStore(db)

	eng := engine.New(cfg, loader, oracle, manager, sync, pb, dog, store, bus)
	if err := eng.Start(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// A local snapshot file gets push-style reloads instead of waiting for
	// the next sync interval
	var watcher *catalog.Watcher
	if cfg.Authority.CatalogPath != "" {
		watcher, err = catalog.NewWatcher(cfg.Authority.CatalogPath, func() {
			sync.Kick("catalog_file_changed")
		})
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to create catalog watcher")
		}
		if err := watcher.Start(); err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to start catalog watcher")
		}
	}

	srv := server.New(cfg, eng, db, loader, oracle, registry)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server shutdown failed")
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Log.Warn().Err(err).Msg("Catalog watcher stop failed")
		}
	}
	eng.Stop()

	logger.Log.Info().Msg("Telecast stopped")
}
