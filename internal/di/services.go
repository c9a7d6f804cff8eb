package di

import (
	"context"
	"fmt"

	"github.com/aristath/instrument-sync/internal/clients/alphavantage"
	"github.com/aristath/instrument-sync/internal/clients/finnhub"
	"github.com/aristath/instrument-sync/internal/config"
	"github.com/aristath/instrument-sync/internal/reliability"
	"github.com/aristath/instrument-sync/internal/universe"
	"github.com/rs/zerolog"
)

// InitializeServices creates the provider clients, the identifier source and
// the optional run archive
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.FinnhubClient = finnhub.NewClient(cfg.FinnhubAPIKey, log)

	container.AlphaVantageClient = alphavantage.NewClient(cfg.AlphaVantageAPIKey, log)
	container.AlphaVantageClient.SetDailyLimit(cfg.AlphaVantageQuota)

	container.Universe = universe.NewFileSource(cfg.TickersFile, log)

	if cfg.Archive.Enabled() {
		r2, err := reliability.NewR2Client(ctx, cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to create archive client: %w", err)
		}
		container.RunArchive = reliability.NewRunArchive(r2, log)
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Run archive enabled")
	}

	return nil
}
