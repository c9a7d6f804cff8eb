// Package main populates company reference data for every ticker in the
// universe. It is meant to run once before the updater, using the same
// chunked, rate-limited batch as the daily price job.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/instrument-sync/internal/config"
	"github.com/aristath/instrument-sync/internal/database"
	"github.com/aristath/instrument-sync/internal/di"
	"github.com/aristath/instrument-sync/internal/ingest"
	"github.com/aristath/instrument-sync/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "bootstrap",
	})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bulk profile: the load can be repeated from scratch, so fsyncs are skipped
	container, instances, err := di.Wire(ctx, cfg, database.ProfileBulk, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	runErr := instances.CompanyProfiles.Run(ctx)

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}

	os.Exit(report(log, runErr, instances.CompanyProfiles.LastResult()))
}

// report logs the outcome of the load and returns the process exit code.
// Rejected records fail the bootstrap even though the job itself returned nil.
func report(log zerolog.Logger, runErr error, result ingest.Result) int {
	if runErr != nil {
		log.Error().Err(runErr).Msg("Bootstrap aborted")
		return 1
	}

	if result.HadFailure {
		log.Error().
			Int("ingested", result.Ingested).
			Int("rejected", result.Rejected+result.Panicked).
			Msg("Bootstrap finished with rejected records")
		return 1
	}

	log.Info().
		Int("ingested", result.Ingested).
		Int("absent", result.Absent).
		Dur("elapsed", result.Elapsed).
		Msg("Bootstrap completed")
	return 0
}
