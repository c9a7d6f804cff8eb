package testing

import (
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureDate is the trading date used by the fixtures
var FixtureDate = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

// NewQuoteFixture returns a plausible daily bar for symbol
func NewQuoteFixture(symbol string) domain.Quote {
	return domain.Quote{
		Symbol:        symbol,
		TradingDate:   FixtureDate,
		Open:          decimal.RequireFromString("100.00"),
		High:          decimal.RequireFromString("104.20"),
		Low:           decimal.RequireFromString("99.10"),
		Close:         decimal.RequireFromString("103.50"),
		PreviousClose: decimal.RequireFromString("100.00"),
		Change:        decimal.RequireFromString("3.50"),
		ChangePercent: decimal.RequireFromString("3.5"),
	}
}

// NewProfileFixture returns a company profile for symbol
func NewProfileFixture(symbol string) domain.CompanyProfile {
	ipo := time.Date(1999, 1, 22, 0, 0, 0, 0, time.UTC)
	return domain.CompanyProfile{
		Symbol:            symbol,
		Name:              symbol + " Corp",
		Exchange:          "NASDAQ NMS - GLOBAL MARKET",
		Industry:          "Technology",
		Country:           "US",
		Currency:          "USD",
		WebURL:            "https://example.com/" + symbol,
		IPODate:           &ipo,
		MarketCap:         decimal.NewFromInt(2_500_000_000_000),
		SharesOutstanding: decimal.NewFromInt(24_500_000_000),
	}
}

// NewDividendHistoryFixture returns two quarterly dividends for symbol
func NewDividendHistoryFixture(symbol string) domain.DividendHistory {
	return domain.DividendHistory{
		Symbol: symbol,
		Dividends: []domain.Dividend{
			{Symbol: symbol, ExDate: time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("0.01")},
			{Symbol: symbol, ExDate: time.Date(2024, 9, 12, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("0.01")},
		},
	}
}

// NewSplitHistoryFixture returns a single 10-for-1 split for symbol
func NewSplitHistoryFixture(symbol string) domain.SplitHistory {
	return domain.SplitHistory{
		Symbol: symbol,
		Splits: []domain.Split{
			{Symbol: symbol, EffectiveDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), Factor: decimal.NewFromInt(10)},
		},
	}
}
