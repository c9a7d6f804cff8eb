package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-token", zerolog.Nop())
	client.SetBaseURL(server.URL)
	return client
}

func TestNewClient(t *testing.T) {
	client := NewClient("abc", zerolog.Nop())
	assert.Equal(t, "abc", client.apiKey)
	assert.Equal(t, defaultBaseURL, client.baseURL)
}

func TestGetQuote_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-token", r.Header.Get("X-Finnhub-Token"))
		assert.Empty(t, r.URL.Query().Get("token"), "key must not leak into the URL")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":261.74,"d":2.29,"dp":0.8826,"h":263.31,"l":260.68,"o":261.07,"pc":259.45,"t":1582641000}`))
	})

	quote, err := client.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, "261.74", quote.Close.String())
	assert.Equal(t, "261.07", quote.Open.String())
	assert.Equal(t, "263.31", quote.High.String())
	assert.Equal(t, "260.68", quote.Low.String())
	assert.Equal(t, "259.45", quote.PreviousClose.String())
	assert.Equal(t, "2.29", quote.Change.String())
	assert.Equal(t, time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC), quote.TradingDate)
}

func TestGetQuote_UnknownSymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	})

	_, err := client.GetQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoData))
}

func TestGetQuote_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.IsType(t, ErrRateLimited{}, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestGetQuote_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := client.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestGetQuote_MalformedPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	})

	_, err := client.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestGetCompanyProfile_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/profile2", r.URL.Path)
		assert.Equal(t, "MSFT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{
			"country": "US",
			"currency": "USD",
			"exchange": "NASDAQ NMS - GLOBAL MARKET",
			"ipo": "1986-03-13",
			"marketCapitalization": 3100000.5,
			"name": "Microsoft Corp",
			"shareOutstanding": 7430.44,
			"ticker": "MSFT",
			"weburl": "https://www.microsoft.com/",
			"finnhubIndustry": "Technology"
		}`))
	})

	profile, err := client.GetCompanyProfile(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.Equal(t, "MSFT", profile.Symbol)
	assert.Equal(t, "Microsoft Corp", profile.Name)
	assert.Equal(t, "Technology", profile.Industry)
	assert.Equal(t, "USD", profile.Currency)
	assert.Equal(t, "3100000500000", profile.MarketCap.String())
	assert.Equal(t, "7430440000", profile.SharesOutstanding.String())
	require.NotNil(t, profile.IPODate)
	assert.Equal(t, 1986, profile.IPODate.Year())
}

func TestGetCompanyProfile_UnknownSymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.GetCompanyProfile(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestGetQuote_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetQuote(ctx, "AAPL")
	assert.Error(t, err)
}
