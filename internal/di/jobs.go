package di

import (
	"github.com/aristath/instrument-sync/internal/config"
	"github.com/aristath/instrument-sync/internal/ingest"
	"github.com/aristath/instrument-sync/internal/jobs"
	"github.com/aristath/instrument-sync/internal/reliability"
	"github.com/aristath/instrument-sync/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs builds the update jobs, the registry the scheduler resolves
// them from and the runner itself
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) *JobInstances {
	// Finnhub: 30 requests per 35s stays under 60/min
	priceBatch := ingest.Config{ChunkSize: cfg.ChunkSize, Wait: cfg.ChunkWait}
	// Alpha Vantage has its own, much smaller quota
	corporateBatch := ingest.Config{ChunkSize: cfg.CorporateChunkSize, Wait: cfg.CorporateChunkWait}

	instances := &JobInstances{
		PriceHistory:    jobs.NewPriceHistoryJob(container.Universe, container.FinnhubClient, container.Store, priceBatch, log),
		Dividends:       jobs.NewDividendsJob(container.Universe, container.AlphaVantageClient, container.Store, corporateBatch, log),
		Splits:          jobs.NewSplitsJob(container.Universe, container.AlphaVantageClient, container.Store, corporateBatch, log),
		CompanyProfiles: jobs.NewCompanyProfilesJob(container.Universe, container.FinnhubClient, container.Store, priceBatch, log),
	}

	if container.SQLiteDB != nil {
		instances.Maintenance = reliability.NewMaintenanceJob(container.SQLiteDB, log)
	}

	// company_profiles stays out of the registry: it belongs to bootstrap only
	container.Registry = jobs.NewRegistry(instances.PriceHistory, instances.Dividends, instances.Splits)

	container.Runner = scheduler.NewRunner(container.Registry, container.Store, log)
	if container.RunArchive != nil {
		container.Runner.AddObserver(container.RunArchive)
	}

	log.Info().Int("jobs", len(container.Registry.Names())).Msg("Jobs registered")

	return instances
}
