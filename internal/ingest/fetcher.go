package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/rs/zerolog"
)

// FetchFunc retrieves one provider record for a ticker
type FetchFunc[R any] func(ctx context.Context, symbol string) (R, error)

// FetchOutcome is either a fetched record or an absence. It is the only thing
// that crosses the fetch boundary; errors never do.
type FetchOutcome[R any] struct {
	record R
	ok     bool
}

// Success wraps a fetched record
func Success[R any](record R) FetchOutcome[R] {
	return FetchOutcome[R]{record: record, ok: true}
}

// Absent signals that no usable record could be obtained
func Absent[R any]() FetchOutcome[R] {
	return FetchOutcome[R]{}
}

// Record returns the record and true, or the zero value and false when absent
func (o FetchOutcome[R]) Record() (R, bool) {
	return o.record, o.ok
}

// IsAbsent reports whether the fetch produced nothing
func (o FetchOutcome[R]) IsAbsent() bool {
	return !o.ok
}

// RecordFetcher produces one outcome per ticker
type RecordFetcher[R any] interface {
	Fetch(ctx context.Context, symbol string) FetchOutcome[R]
}

// Fetcher turns a provider call into a FetchOutcome. Transport failures,
// non-2xx answers, malformed payloads and panics all become Absent and are
// logged with the ticker.
type Fetcher[R any] struct {
	name  string
	fetch FetchFunc[R]
	log   zerolog.Logger
}

// NewFetcher creates a fetcher named after the provider endpoint it wraps
func NewFetcher[R any](name string, fetch FetchFunc[R], log zerolog.Logger) *Fetcher[R] {
	return &Fetcher[R]{
		name:  name,
		fetch: fetch,
		log:   log.With().Str("component", "fetcher").Str("source", name).Logger(),
	}
}

// Fetch never returns an error; see FetchOutcome
func (f *Fetcher[R]) Fetch(ctx context.Context, symbol string) (out FetchOutcome[R]) {
	defer func() {
		if p := recover(); p != nil {
			f.log.Error().
				Str("symbol", symbol).
				Str("panic", fmt.Sprint(p)).
				Msg("Fetch panicked, treating as absent")
			out = Absent[R]()
		}
	}()

	record, err := f.fetch(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			f.log.Info().Str("symbol", symbol).Msg("Symbol does not exist at provider")
		} else {
			f.log.Warn().Err(err).Str("symbol", symbol).Msg("Fetch failed, treating as absent")
		}
		return Absent[R]()
	}

	return Success(record)
}
