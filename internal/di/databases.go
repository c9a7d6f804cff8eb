package di

import (
	"context"
	"fmt"

	"github.com/aristath/instrument-sync/internal/config"
	"github.com/aristath/instrument-sync/internal/database"
	"github.com/aristath/instrument-sync/internal/storage"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the pooled store once for the whole process.
// A postgres:// DATABASE_URL selects pgxpool, anything else the SQLite file
// under DATA_DIR. The schema is applied before returning.
func InitializeDatabases(ctx context.Context, cfg *config.Config, profile database.DatabaseProfile, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	if cfg.UsesPostgres() {
		pool, err := database.ConnectPostgres(ctx, database.PostgresConfig{
			URL:      cfg.DatabaseURL,
			MinConns: 1,
			MaxConns: cfg.ChunkSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}

		container.Store = storage.NewPostgresStore(pool, log)
		log.Info().Msg("PostgreSQL store initialized")
		return container, nil
	}

	db, err := database.New(database.Config{
		Path:    cfg.SQLitePath(),
		Profile: profile,
		Name:    "instruments",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}

	container.SQLiteDB = db
	container.Store = storage.NewSQLiteStore(db, log)
	log.Info().Str("path", db.Path()).Str("profile", string(profile)).Msg("SQLite store initialized")

	return container, nil
}
