package jobs

import (
	"context"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/aristath/instrument-sync/internal/ingest"
	"github.com/aristath/instrument-sync/internal/universe"
	"github.com/rs/zerolog"
)

// QuoteClient fetches the latest daily bar
type QuoteClient interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// ProfileClient fetches company reference data
type ProfileClient interface {
	GetCompanyProfile(ctx context.Context, symbol string) (domain.CompanyProfile, error)
}

// CorporateActionsClient fetches dividend and split histories
type CorporateActionsClient interface {
	GetDividends(ctx context.Context, symbol string) (domain.DividendHistory, error)
	GetSplits(ctx context.Context, symbol string) (domain.SplitHistory, error)
}

// PriceStore persists daily bars
type PriceStore interface {
	UpsertQuote(ctx context.Context, q domain.Quote) error
}

// CompanyStore persists company profiles
type CompanyStore interface {
	UpsertCompany(ctx context.Context, p domain.CompanyProfile) error
}

// CorporateActionsStore persists dividend and split events
type CorporateActionsStore interface {
	UpsertDividends(ctx context.Context, h domain.DividendHistory) error
	UpsertSplits(ctx context.Context, h domain.SplitHistory) error
}

// NewPriceHistoryJob refreshes the latest daily bar of every identifier
func NewPriceHistoryJob(source universe.Source, client QuoteClient, store PriceStore, cfg ingest.Config, log zerolog.Logger) *BatchJob[domain.Quote] {
	return newBatchJob[domain.Quote](domain.JobPriceHistory, source, client.GetQuote, store.UpsertQuote, cfg, log)
}

// NewDividendsJob refreshes the dividend events of every identifier
func NewDividendsJob(source universe.Source, client CorporateActionsClient, store CorporateActionsStore, cfg ingest.Config, log zerolog.Logger) *BatchJob[domain.DividendHistory] {
	return newBatchJob[domain.DividendHistory](domain.JobDividends, source, client.GetDividends, store.UpsertDividends, cfg, log)
}

// NewSplitsJob refreshes the split events of every identifier
func NewSplitsJob(source universe.Source, client CorporateActionsClient, store CorporateActionsStore, cfg ingest.Config, log zerolog.Logger) *BatchJob[domain.SplitHistory] {
	return newBatchJob[domain.SplitHistory](domain.JobSplits, source, client.GetSplits, store.UpsertSplits, cfg, log)
}

// NewCompanyProfilesJob populates company reference data. It is run by the
// bootstrap command and is not part of the scheduled sequence.
func NewCompanyProfilesJob(source universe.Source, client ProfileClient, store CompanyStore, cfg ingest.Config, log zerolog.Logger) *BatchJob[domain.CompanyProfile] {
	return newBatchJob[domain.CompanyProfile](domain.JobCompanyProfiles, source, client.GetCompanyProfile, store.UpsertCompany, cfg, log)
}
