// Package alphavantage provides a client for the Alpha Vantage corporate
// actions API (DIVIDENDS and SPLITS).
//
// The free tier allows 25 requests per day. The client keeps a daily counter
// that resets at midnight UTC and a small in-memory response cache so that a
// manual re-run on the same day does not burn quota.
package alphavantage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"
	// DefaultDailyLimit is the free tier quota
	DefaultDailyLimit = 25
)

// ErrRateLimitExceeded is returned when the daily quota is spent or the API
// reports throttling
type ErrRateLimitExceeded struct{}

func (e ErrRateLimitExceeded) Error() string {
	return "alpha vantage rate limit exceeded"
}

// ErrInvalidAPIKey is returned when the API rejects the key
type ErrInvalidAPIKey struct{}

func (e ErrInvalidAPIKey) Error() string {
	return "alpha vantage: invalid API key"
}

// ErrSymbolNotFound is returned when the API has no such symbol
type ErrSymbolNotFound struct {
	Symbol string
}

func (e ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("alpha vantage: symbol not found: %s", e.Symbol)
}

// Unwrap lets callers treat an unknown symbol as a missing record
func (e ErrSymbolNotFound) Unwrap() error {
	return domain.ErrNoData
}

// CacheTTL holds per-endpoint cache lifetimes
type CacheTTL struct {
	Dividends time.Duration
	Splits    time.Duration
}

// DefaultCacheTTL returns the default cache lifetimes. Corporate actions are
// published at most daily.
func DefaultCacheTTL() CacheTTL {
	return CacheTTL{
		Dividends: 12 * time.Hour,
		Splits:    12 * time.Hour,
	}
}

type cacheEntry struct {
	data      interface{}
	expiresAt time.Time
}

// Client is the Alpha Vantage API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	rateMu     sync.Mutex
	dailyLimit int // 0 disables the client-side counter
	used       int
	resetAt    time.Time

	cacheMu  sync.RWMutex
	cache    map[string]cacheEntry
	cacheTTL CacheTTL
}

// NewClient creates a new Alpha Vantage client with the free tier quota
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:        log.With().Str("client", "alphavantage").Logger(),
		dailyLimit: DefaultDailyLimit,
		resetAt:    nextMidnightUTC(),
		cache:      make(map[string]cacheEntry),
		cacheTTL:   DefaultCacheTTL(),
	}
}

// SetBaseURL points the client at another host (tests, proxies)
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// SetDailyLimit changes the daily request quota. Zero disables the counter
// for premium keys.
func (c *Client) SetDailyLimit(limit int) {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	if limit < 0 {
		limit = 0
	}
	c.dailyLimit = limit
}

// SetCacheTTL replaces the cache lifetimes
func (c *Client) SetCacheTTL(ttl CacheTTL) {
	c.cacheTTL = ttl
}

// GetRemainingRequests returns how many requests are left today, or -1 when
// the counter is disabled
func (c *Client) GetRemainingRequests() int {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	c.rollOverLocked()
	if c.dailyLimit == 0 {
		return -1
	}
	return c.dailyLimit - c.used
}

// ResetDailyCounter clears the request counter
func (c *Client) ResetDailyCounter() {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	c.used = 0
	c.resetAt = nextMidnightUTC()
}

// ClearCache drops every cached response
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

// GetDividends fetches the dividend history of symbol
func (c *Client) GetDividends(ctx context.Context, symbol string) (domain.DividendHistory, error) {
	params := map[string]string{"symbol": symbol}
	cacheKey := buildCacheKey("DIVIDENDS", params)
	if cached, ok := c.getFromCache(cacheKey); ok {
		if history, ok := cached.(domain.DividendHistory); ok {
			return history, nil
		}
	}

	body, err := c.doRequest(ctx, "DIVIDENDS", params)
	if err != nil {
		return domain.DividendHistory{}, err
	}

	history, err := parseDividends(symbol, body)
	if err != nil {
		return domain.DividendHistory{}, err
	}

	c.setCache(cacheKey, history, c.cacheTTL.Dividends)
	return history, nil
}

// GetSplits fetches the split history of symbol
func (c *Client) GetSplits(ctx context.Context, symbol string) (domain.SplitHistory, error) {
	params := map[string]string{"symbol": symbol}
	cacheKey := buildCacheKey("SPLITS", params)
	if cached, ok := c.getFromCache(cacheKey); ok {
		if history, ok := cached.(domain.SplitHistory); ok {
			return history, nil
		}
	}

	body, err := c.doRequest(ctx, "SPLITS", params)
	if err != nil {
		return domain.SplitHistory{}, err
	}

	history, err := parseSplits(symbol, body)
	if err != nil {
		return domain.SplitHistory{}, err
	}

	c.setCache(cacheKey, history, c.cacheTTL.Splits)
	return history, nil
}

func (c *Client) doRequest(ctx context.Context, function string, params map[string]string) ([]byte, error) {
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("function", function)
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.log.Debug().
		Str("function", function).
		Str("symbol", params["symbol"]).
		Int("remaining", c.GetRemainingRequests()).
		Msg("Making Alpha Vantage request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage API error: status %d, body: %s", resp.StatusCode, truncate(body, 200))
	}

	if err := c.checkAPIError(body); err != nil {
		if _, ok := err.(ErrSymbolNotFound); ok {
			return nil, ErrSymbolNotFound{Symbol: params["symbol"]}
		}
		return nil, err
	}

	return body, nil
}

// checkRateLimit consumes one request from the daily quota
func (c *Client) checkRateLimit() error {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	c.rollOverLocked()
	if c.dailyLimit == 0 {
		return nil
	}
	if c.used >= c.dailyLimit {
		return ErrRateLimitExceeded{}
	}
	c.used++
	return nil
}

func (c *Client) rollOverLocked() {
	if time.Now().UTC().After(c.resetAt) {
		c.used = 0
		c.resetAt = nextMidnightUTC()
	}
}

// checkAPIError detects errors the API reports with HTTP 200
func (c *Client) checkAPIError(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("Thank you for using Alpha Vantage")) {
		return ErrRateLimitExceeded{}
	}

	var apiErr struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(trimmed, &apiErr); err != nil {
		// Not an object; let the endpoint parser decide
		return nil
	}

	switch {
	case apiErr.Note != "":
		return ErrRateLimitExceeded{}
	case apiErr.Information != "":
		lower := strings.ToLower(apiErr.Information)
		if strings.Contains(lower, "api key") && strings.Contains(lower, "invalid") {
			return ErrInvalidAPIKey{}
		}
		return ErrRateLimitExceeded{}
	case apiErr.ErrorMessage != "":
		lower := strings.ToLower(apiErr.ErrorMessage)
		if strings.Contains(lower, "apikey") || strings.Contains(lower, "api key") {
			return ErrInvalidAPIKey{}
		}
		if strings.Contains(lower, "invalid api call") || strings.Contains(lower, "symbol") {
			return ErrSymbolNotFound{}
		}
		return fmt.Errorf("alpha vantage error: %s", apiErr.ErrorMessage)
	}

	return nil
}

func (c *Client) getFromCache(key string) (interface{}, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

func (c *Client) setCache(key string, data interface{}, ttl time.Duration) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.cache[key] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
}

// buildCacheKey builds a stable key from the function and its params, without the API key
func buildCacheKey(function string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "apikey" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(function)
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}
	return sb.String()
}

func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func truncate(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Response parsing

type dividendsResponse struct {
	Symbol string `json:"symbol"`
	Data   []struct {
		ExDividendDate  string `json:"ex_dividend_date"`
		DeclarationDate string `json:"declaration_date"`
		RecordDate      string `json:"record_date"`
		PaymentDate     string `json:"payment_date"`
		Amount          string `json:"amount"`
	} `json:"data"`
}

type splitsResponse struct {
	Symbol string `json:"symbol"`
	Data   []struct {
		EffectiveDate string `json:"effective_date"`
		SplitFactor   string `json:"split_factor"`
	} `json:"data"`
}

func parseDividends(symbol string, body []byte) (domain.DividendHistory, error) {
	var resp dividendsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.DividendHistory{}, fmt.Errorf("failed to parse dividends: %w", err)
	}
	if resp.Symbol == "" && resp.Data == nil {
		return domain.DividendHistory{}, fmt.Errorf("dividends for %s: %w", symbol, domain.ErrNoData)
	}

	history := domain.DividendHistory{Symbol: symbol}
	for _, row := range resp.Data {
		exDate := parseDate(row.ExDividendDate)
		if exDate.IsZero() {
			continue
		}
		history.Dividends = append(history.Dividends, domain.Dividend{
			Symbol:          symbol,
			ExDate:          exDate,
			DeclarationDate: parseDatePtr(row.DeclarationDate),
			RecordDate:      parseDatePtr(row.RecordDate),
			PaymentDate:     parseDatePtr(row.PaymentDate),
			Amount:          parseDecimal(row.Amount),
		})
	}
	return history, nil
}

func parseSplits(symbol string, body []byte) (domain.SplitHistory, error) {
	var resp splitsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SplitHistory{}, fmt.Errorf("failed to parse splits: %w", err)
	}
	if resp.Symbol == "" && resp.Data == nil {
		return domain.SplitHistory{}, fmt.Errorf("splits for %s: %w", symbol, domain.ErrNoData)
	}

	history := domain.SplitHistory{Symbol: symbol}
	for _, row := range resp.Data {
		effective := parseDate(row.EffectiveDate)
		factor := parseDecimal(row.SplitFactor)
		if effective.IsZero() || factor.IsZero() {
			continue
		}
		history.Splits = append(history.Splits, domain.Split{
			Symbol:        symbol,
			EffectiveDate: effective,
			Factor:        factor,
		})
	}
	return history, nil
}

// Value parsers. Alpha Vantage sends numbers as strings and uses "None" for missing values.

func isMissing(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "None", "null", "-":
		return true
	}
	return false
}

func parseDecimal(s string) decimal.Decimal {
	if isMissing(s) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDate(s string) time.Time {
	if isMissing(s) {
		return time.Time{}
	}
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDatePtr(s string) *time.Time {
	t := parseDate(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
