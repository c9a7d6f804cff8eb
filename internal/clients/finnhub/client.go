// Package finnhub provides a client for the Finnhub stock API.
// It covers the two endpoints the updater needs: the latest daily quote and
// the company profile.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://finnhub.io/api/v1"
	// Free tier: 60 requests/minute, 30 requests/second.
	// Pacing is done by the batch runner, not here.
)

// ErrRateLimited is returned on HTTP 429
type ErrRateLimited struct {
	Endpoint string
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("finnhub rate limit hit on %s", e.Endpoint)
}

// quoteResponse is the /quote payload. Unknown symbols come back as all zeros.
type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// profileResponse is the /stock/profile2 payload. Unknown symbols come back as {}.
type profileResponse struct {
	Country          string  `json:"country"`
	Currency         string  `json:"currency"`
	Exchange         string  `json:"exchange"`
	IPO              string  `json:"ipo"`
	MarketCap        float64 `json:"marketCapitalization"`
	Name             string  `json:"name"`
	ShareOutstanding float64 `json:"shareOutstanding"`
	Ticker           string  `json:"ticker"`
	WebURL           string  `json:"weburl"`
	FinnhubIndustry  string  `json:"finnhubIndustry"`
}

// Client is the Finnhub API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Finnhub client
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "finnhub").Logger(),
	}
}

// SetBaseURL points the client at another host (tests, proxies)
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// GetQuote fetches the latest daily bar for symbol
func (c *Client) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/quote", symbol, &resp); err != nil {
		return domain.Quote{}, err
	}

	if resp.Timestamp == 0 && resp.Current == 0 {
		return domain.Quote{}, fmt.Errorf("quote for %s: %w", symbol, domain.ErrNoData)
	}

	tradingDate := time.Unix(resp.Timestamp, 0).UTC().Truncate(24 * time.Hour)

	return domain.Quote{
		Symbol:        symbol,
		TradingDate:   tradingDate,
		Open:          decimal.NewFromFloat(resp.Open),
		High:          decimal.NewFromFloat(resp.High),
		Low:           decimal.NewFromFloat(resp.Low),
		Close:         decimal.NewFromFloat(resp.Current),
		PreviousClose: decimal.NewFromFloat(resp.PreviousClose),
		Change:        decimal.NewFromFloat(resp.Change),
		ChangePercent: decimal.NewFromFloat(resp.ChangePercent),
	}, nil
}

// GetCompanyProfile fetches reference data for symbol
func (c *Client) GetCompanyProfile(ctx context.Context, symbol string) (domain.CompanyProfile, error) {
	var resp profileResponse
	if err := c.get(ctx, "/stock/profile2", symbol, &resp); err != nil {
		return domain.CompanyProfile{}, err
	}

	if resp.Ticker == "" {
		return domain.CompanyProfile{}, fmt.Errorf("profile for %s: %w", symbol, domain.ErrNoData)
	}

	profile := domain.CompanyProfile{
		Symbol:   resp.Ticker,
		Name:     resp.Name,
		Exchange: resp.Exchange,
		Industry: resp.FinnhubIndustry,
		Country:  resp.Country,
		Currency: resp.Currency,
		WebURL:   resp.WebURL,
	}
	// Both are reported in millions
	profile.MarketCap = decimal.NewFromFloat(resp.MarketCap).Shift(6)
	profile.SharesOutstanding = decimal.NewFromFloat(resp.ShareOutstanding).Shift(6)
	if ipo, err := time.Parse(domain.DateLayout, resp.IPO); err == nil {
		profile.IPODate = &ipo
	}

	return profile, nil
}

// get performs an authenticated GET and decodes the JSON body into out
func (c *Client) get(ctx context.Context, path, symbol string, out interface{}) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Finnhub-Token", c.apiKey)

	c.log.Debug().Str("endpoint", path).Str("symbol", symbol).Msg("Making Finnhub request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited{Endpoint: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("finnhub API error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
