package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acossette/telecast/internal/authority"
	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/logger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	snapshotPath := flag.String("catalog", "./catalog.json", "path to the catalog snapshot file")
	addr := flag.String("addr", ":8091", "listen address")
	epochMs := flag.Int64("epoch", 0, "global epoch in unix milliseconds (default: midnight today UTC)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger.Init(*logLevel, true)

	epoch := *epochMs
	if epoch == 0 {
		now := time.Now().UTC()
		epoch = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
	}

	svc := authority.New(*snapshotPath, epoch, 1)
	if err := svc.Load(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load catalog snapshot")
	}

	// Reload automatically when the snapshot file is edited
	watcher, err := catalog.NewWatcher(*snapshotPath, func() {
		if err := svc.Load(); err != nil {
			logger.Log.Error().Err(err).Msg("Snapshot reload failed, serving previous catalog")
		}
	})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create snapshot watcher")
	}
	if err := watcher.Start(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start snapshot watcher")
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      svc.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.Info().
			Str("addr", *addr).
			Str("catalog", *snapshotPath).
			Int64("epoch_ms", epoch).
			Msg("Authority server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := watcher.Stop(); err != nil {
		logger.Log.Warn().Err(err).Msg("Snapshot watcher stop failed")
	}

	logger.Log.Info().Msg("Authority stopped")
}
