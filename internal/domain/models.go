// Package domain provides the instrument records and run bookkeeping types
// shared by the clients, the store and the update jobs.
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for trading, ex-dividend and split dates
const DateLayout = "2006-01-02"

// JobName identifies an update job
type JobName string

const (
	// JobPriceHistory refreshes the latest daily price bar for every ticker
	JobPriceHistory JobName = "price_history"
	// JobDividends refreshes dividend events
	JobDividends JobName = "dividends"
	// JobSplits refreshes stock split events
	JobSplits JobName = "splits"
	// JobCompanyProfiles populates company reference data (bootstrap only)
	JobCompanyProfiles JobName = "company_profiles"
)

// Quote is the latest daily bar reported for a ticker
type Quote struct {
	TradingDate   time.Time       `json:"trading_date"`
	Symbol        string          `json:"symbol"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// CompanyProfile is the reference data for one listed company
type CompanyProfile struct {
	IPODate           *time.Time      `json:"ipo_date,omitempty"`
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	Exchange          string          `json:"exchange"`
	Industry          string          `json:"industry"`
	Country           string          `json:"country"`
	Currency          string          `json:"currency"`
	WebURL            string          `json:"web_url"`
	MarketCap         decimal.Decimal `json:"market_cap"`
	SharesOutstanding decimal.Decimal `json:"shares_outstanding"`
}

// Dividend is a single cash dividend event
type Dividend struct {
	ExDate          time.Time       `json:"ex_date"`
	DeclarationDate *time.Time      `json:"declaration_date,omitempty"`
	RecordDate      *time.Time      `json:"record_date,omitempty"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	Symbol          string          `json:"symbol"`
	Amount          decimal.Decimal `json:"amount"`
}

// DividendHistory is everything the provider reports for one ticker
type DividendHistory struct {
	Symbol    string
	Dividends []Dividend
}

// Split is a single stock split event. A factor of 2 means 2-for-1.
type Split struct {
	EffectiveDate time.Time       `json:"effective_date"`
	Symbol        string          `json:"symbol"`
	Factor        decimal.Decimal `json:"factor"`
}

// SplitHistory is everything the provider reports for one ticker
type SplitHistory struct {
	Symbol string
	Splits []Split
}

// ErrNoData marks a provider answer that carried no usable record for a ticker
var ErrNoData = errors.New("no data for symbol")
