package testing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aristath/instrument-sync/internal/domain"
)

// MockProvider is an in-memory stand-in for the Finnhub and Alpha Vantage clients.
// Symbols without a configured record answer with domain.ErrNoData.
type MockProvider struct {
	mu        sync.RWMutex
	quotes    map[string]domain.Quote
	profiles  map[string]domain.CompanyProfile
	dividends map[string]domain.DividendHistory
	splits    map[string]domain.SplitHistory
	errs      map[string]error
	calls     map[string]int
}

// NewMockProvider creates an empty mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		quotes:    make(map[string]domain.Quote),
		profiles:  make(map[string]domain.CompanyProfile),
		dividends: make(map[string]domain.DividendHistory),
		splits:    make(map[string]domain.SplitHistory),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// SetQuote configures the quote returned for its symbol
func (m *MockProvider) SetQuote(q domain.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = q
}

// SetProfile configures the profile returned for its symbol
func (m *MockProvider) SetProfile(p domain.CompanyProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Symbol] = p
}

// SetDividends configures the dividend history returned for its symbol
func (m *MockProvider) SetDividends(h domain.DividendHistory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dividends[h.Symbol] = h
}

// SetSplits configures the split history returned for its symbol
func (m *MockProvider) SetSplits(h domain.SplitHistory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splits[h.Symbol] = h
}

// SetError makes every call for symbol fail with err
func (m *MockProvider) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = err
}

// Calls returns how many requests were made for endpoint ("quote", "profile", "dividends", "splits")
func (m *MockProvider) Calls(endpoint string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[endpoint]
}

func (m *MockProvider) record(endpoint, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[endpoint]++
	return m.errs[symbol]
}

// GetQuote implements the quote client
func (m *MockProvider) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := m.record("quote", symbol); err != nil {
		return domain.Quote{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("quote for %s: %w", symbol, domain.ErrNoData)
	}
	return q, nil
}

// GetCompanyProfile implements the profile client
func (m *MockProvider) GetCompanyProfile(ctx context.Context, symbol string) (domain.CompanyProfile, error) {
	if err := m.record("profile", symbol); err != nil {
		return domain.CompanyProfile{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[symbol]
	if !ok {
		return domain.CompanyProfile{}, fmt.Errorf("profile for %s: %w", symbol, domain.ErrNoData)
	}
	return p, nil
}

// GetDividends implements the corporate actions client
func (m *MockProvider) GetDividends(ctx context.Context, symbol string) (domain.DividendHistory, error) {
	if err := m.record("dividends", symbol); err != nil {
		return domain.DividendHistory{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.dividends[symbol]
	if !ok {
		return domain.DividendHistory{}, fmt.Errorf("dividends for %s: %w", symbol, domain.ErrNoData)
	}
	return h, nil
}

// GetSplits implements the corporate actions client
func (m *MockProvider) GetSplits(ctx context.Context, symbol string) (domain.SplitHistory, error) {
	if err := m.record("splits", symbol); err != nil {
		return domain.SplitHistory{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.splits[symbol]
	if !ok {
		return domain.SplitHistory{}, fmt.Errorf("splits for %s: %w", symbol, domain.ErrNoData)
	}
	return h, nil
}

// ErrRejected is what MockRecordStore returns for rejected symbols
var ErrRejected = errors.New("mock store rejected record")

// MockRecordStore records upserts in memory and rejects configured symbols
type MockRecordStore struct {
	mu        sync.Mutex
	reject    map[string]bool
	quotes    []domain.Quote
	companies []domain.CompanyProfile
	dividends []domain.DividendHistory
	splits    []domain.SplitHistory
}

// NewMockRecordStore creates a store that rejects the given symbols
func NewMockRecordStore(reject ...string) *MockRecordStore {
	m := &MockRecordStore{reject: make(map[string]bool)}
	for _, s := range reject {
		m.reject[strings.ToUpper(s)] = true
	}
	return m
}

func (m *MockRecordStore) rejected(symbol string) error {
	if m.reject[strings.ToUpper(symbol)] {
		return fmt.Errorf("%s: %w", symbol, ErrRejected)
	}
	return nil
}

// UpsertQuote records q
func (m *MockRecordStore) UpsertQuote(ctx context.Context, q domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rejected(q.Symbol); err != nil {
		return err
	}
	m.quotes = append(m.quotes, q)
	return nil
}

// UpsertCompany records p
func (m *MockRecordStore) UpsertCompany(ctx context.Context, p domain.CompanyProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rejected(p.Symbol); err != nil {
		return err
	}
	m.companies = append(m.companies, p)
	return nil
}

// UpsertDividends records h
func (m *MockRecordStore) UpsertDividends(ctx context.Context, h domain.DividendHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rejected(h.Symbol); err != nil {
		return err
	}
	m.dividends = append(m.dividends, h)
	return nil
}

// UpsertSplits records h
func (m *MockRecordStore) UpsertSplits(ctx context.Context, h domain.SplitHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rejected(h.Symbol); err != nil {
		return err
	}
	m.splits = append(m.splits, h)
	return nil
}

// Quotes returns the stored quotes in write order
func (m *MockRecordStore) Quotes() []domain.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Quote(nil), m.quotes...)
}

// Companies returns the stored profiles in write order
func (m *MockRecordStore) Companies() []domain.CompanyProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CompanyProfile(nil), m.companies...)
}

// Dividends returns the stored dividend histories in write order
func (m *MockRecordStore) Dividends() []domain.DividendHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DividendHistory(nil), m.dividends...)
}

// Splits returns the stored split histories in write order
func (m *MockRecordStore) Splits() []domain.SplitHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SplitHistory(nil), m.splits...)
}

// MockCloser counts Close calls
type MockCloser struct {
	mu    sync.Mutex
	count int
	err   error
}

// NewMockCloser creates a closer that returns err on Close
func NewMockCloser(err error) *MockCloser {
	return &MockCloser{err: err}
}

// Close records the call
func (m *MockCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	return m.err
}

// Count returns how many times Close was called
func (m *MockCloser) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
