package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestFetcher_Success(t *testing.T) {
	f := NewFetcher("quote", func(ctx context.Context, symbol string) (string, error) {
		return "record-" + symbol, nil
	}, zerolog.Nop())

	out := f.Fetch(context.Background(), "AAPL")

	record, ok := out.Record()
	assert.True(t, ok)
	assert.False(t, out.IsAbsent())
	assert.Equal(t, "record-AAPL", record)
}

func TestFetcher_ErrorsBecomeAbsent(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", errors.New("dial tcp: connection refused")},
		{"http status", fmt.Errorf("unexpected status 502")},
		{"no data", fmt.Errorf("profile for ZZZZ: %w", domain.ErrNoData)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher("quote", func(ctx context.Context, symbol string) (int, error) {
				return 42, tt.err
			}, zerolog.Nop())

			out := f.Fetch(context.Background(), "AAPL")

			record, ok := out.Record()
			assert.False(t, ok)
			assert.True(t, out.IsAbsent())
			assert.Zero(t, record)
		})
	}
}

func TestFetcher_PanicBecomesAbsent(t *testing.T) {
	f := NewFetcher("quote", func(ctx context.Context, symbol string) (int, error) {
		panic("malformed payload")
	}, zerolog.Nop())

	assert.NotPanics(t, func() {
		out := f.Fetch(context.Background(), "AAPL")
		assert.True(t, out.IsAbsent())
	})
}
