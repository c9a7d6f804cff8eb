package di

import (
	"context"
	"fmt"

	"github.com/aristath/instrument-sync/internal/config"
	"github.com/aristath/instrument-sync/internal/database"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Open and migrate the store
// 2. Create clients and the identifier source
// 3. Register jobs and the runner
// The caller owns the returned container and must Close it.
func Wire(ctx context.Context, cfg *config.Config, profile database.DatabaseProfile, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(ctx, cfg, profile, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs := RegisterJobs(container, cfg, log)

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, jobs, nil
}
