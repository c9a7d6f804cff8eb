// Package main is the entry point for the instrument updater.
//
// Manual mode (default) runs price_history and the corporate-action jobs
// chosen by --type once, then releases the store and exits. Scheduled mode
// (RUN_SCHEDULED=true) keeps the store open and fires on SCHEDULE_EXPRESSION,
// taking dividends on odd days and splits on even days, until SIGINT/SIGTERM.
// --type is ignored in scheduled mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // SCHEDULE_TIMEZONE must resolve in minimal containers

	"github.com/aristath/instrument-sync/internal/config"
	"github.com/aristath/instrument-sync/internal/database"
	"github.com/aristath/instrument-sync/internal/di"
	"github.com/aristath/instrument-sync/internal/scheduler"
	"github.com/aristath/instrument-sync/internal/server"
	"github.com/aristath/instrument-sync/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	jobType, usage, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("Failed to load configuration")
		return exitFailure
	}

	// --type only drives manual runs; it is checked before the store is opened
	var selector scheduler.Selector
	if !cfg.RunScheduled {
		selector, err = scheduler.ParseSelector(jobType)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n\n", err)
			usage()
			return exitUsage
		}
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "updater",
	})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, instances, err := di.Wire(ctx, cfg, database.ProfileStandard, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize dependencies")
		return exitFailure
	}

	if !cfg.RunScheduled {
		log.Info().Str("mode", "manual").Str("type", string(selector)).Msg("Starting updater")
		if err := container.Runner.RunOnce(ctx, scheduler.ManualTrigger(selector), container); err != nil {
			log.Error().Err(err).Msg("Update failed")
			return exitFailure
		}
		log.Info().Msg("Update completed")
		return exitOK
	}

	log.Info().Str("mode", "scheduled").Msg("Starting updater")
	if jobType != string(scheduler.SelectBoth) {
		log.Warn().Str("type", jobType).Msg("--type is ignored in scheduled mode")
	}
	return runScheduled(ctx, cfg, container, instances, log)
}

// parseArgs checks the flag syntax and returns the raw --type value with a
// function printing usage to stderr. The value itself is not validated here.
func parseArgs(args []string, stderr io.Writer) (string, func(), error) {
	fs := flag.NewFlagSet("updater", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jobType := fs.String("type", string(scheduler.SelectBoth), "corporate actions to update in manual mode: dividend, split or both")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: updater [--type=dividend|split|both]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return "", fs.Usage, err
	}
	return *jobType, fs.Usage, nil
}

func runScheduled(ctx context.Context, cfg *config.Config, container *di.Container, instances *di.JobInstances, log zerolog.Logger) int {
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	trigger, err := scheduler.NewCronTrigger(cfg.ScheduleExpression, cfg.Location(), container.Runner, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create scheduler")
		return exitFailure
	}

	if instances.Maintenance != nil && cfg.MaintenanceSchedule != "" {
		if err := trigger.AddJob(cfg.MaintenanceSchedule, instances.Maintenance); err != nil {
			log.Error().Err(err).Msg("Failed to register maintenance job")
			return exitFailure
		}
	}

	trigger.Start()

	var srv *server.Server
	if cfg.StatusPort > 0 {
		srv = server.New(server.Config{
			Log:      log,
			Store:    container.Store,
			Runner:   container.Runner,
			Schedule: trigger,
			Port:     cfg.StatusPort,
		})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}

	if err := trigger.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Scheduler did not stop cleanly")
	}

	log.Info().Msg("Updater stopped")
	return exitOK
}
