package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
)

var errMissingKey = errors.New("record is missing its natural key")

const upsertQuoteSQL = `
	INSERT INTO price_history
	(symbol, trading_date, open, high, low, close, previous_close, change, change_percent, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, trading_date) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		previous_close = excluded.previous_close,
		change = excluded.change,
		change_percent = excluded.change_percent,
		updated_at = excluded.updated_at
`

const upsertCompanySQL = `
	INSERT INTO companies
	(symbol, name, exchange, industry, country, currency, web_url, ipo_date, market_cap, shares_outstanding, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol) DO UPDATE SET
		name = excluded.name,
		exchange = excluded.exchange,
		industry = excluded.industry,
		country = excluded.country,
		currency = excluded.currency,
		web_url = excluded.web_url,
		ipo_date = excluded.ipo_date,
		market_cap = excluded.market_cap,
		shares_outstanding = excluded.shares_outstanding,
		updated_at = excluded.updated_at
`

const upsertDividendSQL = `
	INSERT INTO dividends
	(symbol, ex_date, declaration_date, record_date, payment_date, amount, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, ex_date) DO UPDATE SET
		declaration_date = excluded.declaration_date,
		record_date = excluded.record_date,
		payment_date = excluded.payment_date,
		amount = excluded.amount,
		updated_at = excluded.updated_at
`

const upsertSplitSQL = `
	INSERT INTO splits
	(symbol, effective_date, factor, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (symbol, effective_date) DO UPDATE SET
		factor = excluded.factor,
		updated_at = excluded.updated_at
`

// UpsertQuote stores the daily bar keyed by symbol and trading date
func (s *Store) UpsertQuote(ctx context.Context, q domain.Quote) error {
	symbol := normalizeSymbol(q.Symbol)
	if symbol == "" || q.TradingDate.IsZero() {
		return fmt.Errorf("quote %q: %w", q.Symbol, errMissingKey)
	}

	err := s.q.exec(ctx, upsertQuoteSQL,
		symbol,
		formatDate(q.TradingDate),
		q.Open.String(),
		q.High.String(),
		q.Low.String(),
		q.Close.String(),
		q.PreviousClose.String(),
		q.Change.String(),
		q.ChangePercent.String(),
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quote for %s: %w", symbol, err)
	}
	return nil
}

// UpsertCompany stores the company profile keyed by symbol
func (s *Store) UpsertCompany(ctx context.Context, p domain.CompanyProfile) error {
	symbol := normalizeSymbol(p.Symbol)
	if symbol == "" {
		return fmt.Errorf("company profile: %w", errMissingKey)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("company profile %s has no name", symbol)
	}

	err := s.q.exec(ctx, upsertCompanySQL,
		symbol,
		p.Name,
		p.Exchange,
		p.Industry,
		p.Country,
		p.Currency,
		p.WebURL,
		nullDate(p.IPODate),
		p.MarketCap.String(),
		p.SharesOutstanding.String(),
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert company %s: %w", symbol, err)
	}
	return nil
}

// UpsertDividends stores every event of the history in one transaction
func (s *Store) UpsertDividends(ctx context.Context, h domain.DividendHistory) error {
	if len(h.Dividends) == 0 {
		return nil
	}
	now := s.now().UnixMilli()

	return s.q.inTx(ctx, func(q querier) error {
		for _, d := range h.Dividends {
			symbol := normalizeSymbol(d.Symbol)
			if symbol == "" || d.ExDate.IsZero() {
				return fmt.Errorf("dividend for %q: %w", h.Symbol, errMissingKey)
			}
			err := q.exec(ctx, upsertDividendSQL,
				symbol,
				formatDate(d.ExDate),
				nullDate(d.DeclarationDate),
				nullDate(d.RecordDate),
				nullDate(d.PaymentDate),
				d.Amount.String(),
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert dividend %s %s: %w", symbol, formatDate(d.ExDate), err)
			}
		}
		return nil
	})
}

// UpsertSplits stores every event of the history in one transaction
func (s *Store) UpsertSplits(ctx context.Context, h domain.SplitHistory) error {
	if len(h.Splits) == 0 {
		return nil
	}
	now := s.now().UnixMilli()

	return s.q.inTx(ctx, func(q querier) error {
		for _, sp := range h.Splits {
			symbol := normalizeSymbol(sp.Symbol)
			if symbol == "" || sp.EffectiveDate.IsZero() {
				return fmt.Errorf("split for %q: %w", h.Symbol, errMissingKey)
			}
			if !sp.Factor.IsPositive() {
				return fmt.Errorf("split %s %s has non-positive factor %s", symbol, formatDate(sp.EffectiveDate), sp.Factor)
			}
			err := q.exec(ctx, upsertSplitSQL,
				symbol,
				formatDate(sp.EffectiveDate),
				sp.Factor.String(),
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert split %s %s: %w", symbol, formatDate(sp.EffectiveDate), err)
			}
		}
		return nil
	})
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

// nullDate returns nil for a missing date so the column stores NULL
func nullDate(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatDate(*t)
}
