// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/instrument-sync/internal/clients/alphavantage"
	"github.com/aristath/instrument-sync/internal/clients/finnhub"
	"github.com/aristath/instrument-sync/internal/database"
	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/aristath/instrument-sync/internal/jobs"
	"github.com/aristath/instrument-sync/internal/reliability"
	"github.com/aristath/instrument-sync/internal/scheduler"
	"github.com/aristath/instrument-sync/internal/storage"
	"github.com/aristath/instrument-sync/internal/universe"
)

// Container holds every long-lived dependency of a process
type Container struct {
	// Persistence. Store owns the pool; SQLiteDB is nil on PostgreSQL.
	Store    *storage.Store
	SQLiteDB *database.DB

	// Clients - External API integrations
	FinnhubClient      *finnhub.Client      // Quotes and company profiles
	AlphaVantageClient *alphavantage.Client // Dividends and splits

	Universe *universe.FileSource
	Registry *jobs.Registry
	Runner   *scheduler.Runner

	// Optional
	RunArchive *reliability.RunArchive
}

// JobInstances holds references to every job instance
type JobInstances struct {
	PriceHistory    *jobs.BatchJob[domain.Quote]
	Dividends       *jobs.BatchJob[domain.DividendHistory]
	Splits          *jobs.BatchJob[domain.SplitHistory]
	CompanyProfiles *jobs.BatchJob[domain.CompanyProfile]
	Maintenance     *reliability.MaintenanceJob // nil on PostgreSQL
}

// Close releases the store pool
func (c *Container) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
