package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hntlabs/walletsync/service/metrics"
)

// DefaultPollInterval is how often the price table refreshes when the
// config does not override it.
const DefaultPollInterval = 5 * time.Minute

// PriceFeed fetches current token prices in a fiat currency. The response
// maps lowercase token symbols to prices.
type PriceFeed interface {
	FetchPrices(ctx context.Context, currency string) (map[string]decimal.Decimal, error)
}

// HTTPPriceFeed is a PriceFeed over a JSON HTTP API.
type HTTPPriceFeed struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPPriceFeed creates a price feed client.
func NewHTTPPriceFeed(baseURL string, httpClient *http.Client, logger *slog.Logger) *HTTPPriceFeed {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPriceFeed{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchPrices requests token prices in the given fiat currency.
func (f *HTTPPriceFeed) FetchPrices(ctx context.Context, currency string) (map[string]decimal.Decimal, error) {
	u := fmt.Sprintf("%s/prices?currency=%s", f.baseURL, url.QueryEscape(strings.ToLower(currency)))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var raw map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(raw))
	for symbol, num := range raw {
		price, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, fmt.Errorf("invalid price %q for %s: %w", num, symbol, err)
		}
		prices[strings.ToLower(symbol)] = price
	}
	return prices, nil
}

// PriceTable is the process-wide cache of token prices per fiat currency.
// Refreshes overwrite a currency's map wholesale; a failed refresh leaves
// the previous prices in place.
type PriceTable struct {
	mu        sync.RWMutex
	prices    map[string]map[string]decimal.Decimal
	updatedAt map[string]time.Time
}

// NewPriceTable creates an empty price table.
func NewPriceTable() *PriceTable {
	return &PriceTable{
		prices:    make(map[string]map[string]decimal.Decimal),
		updatedAt: make(map[string]time.Time),
	}
}

// Price returns the cached price of a token symbol in a currency.
func (t *PriceTable) Price(currency, symbol string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[strings.ToLower(currency)][strings.ToLower(symbol)]
	return p, ok
}

// SetAll replaces every price for a currency (last write wins).
func (t *PriceTable) SetAll(currency string, prices map[string]decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[strings.ToLower(currency)] = prices
	t.updatedAt[strings.ToLower(currency)] = time.Now().UTC()
}

// UpdatedAt returns when the currency's prices were last refreshed.
func (t *PriceTable) UpdatedAt(currency string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.updatedAt[strings.ToLower(currency)]
	return ts, ok
}

// PricePoller keeps the price table fresh: an immediate fetch on start, a
// fixed-interval refetch, and an immediate refetch whenever the selected
// fiat currency changes. All refreshes go through the single-flight guard.
type PricePoller struct {
	table    *PriceTable
	feed     PriceFeed
	guard    *Guard
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	currency string
	kick     chan struct{}
}

// NewPricePoller creates a poller for the given fiat currency.
// If m is nil, no metrics will be recorded.
func NewPricePoller(table *PriceTable, feed PriceFeed, guard *Guard, currency string, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *PricePoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PricePoller{
		table:    table,
		feed:     feed,
		guard:    guard,
		metrics:  m,
		logger:   logger,
		interval: interval,
		currency: strings.ToLower(currency),
		kick:     make(chan struct{}, 1),
	}
}

// Currency returns the currently selected fiat currency.
func (p *PricePoller) Currency() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currency
}

// SetCurrency switches the fiat currency and triggers an immediate refresh.
func (p *PricePoller) SetCurrency(currency string) {
	p.mu.Lock()
	p.currency = strings.ToLower(currency)
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, refreshing immediately and then on every
// tick or currency change.
func (p *PricePoller) Run(ctx context.Context) {
	p.Refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		case <-p.kick:
			p.Refresh(ctx)
		}
	}
}

// Refresh fetches prices for the current currency once. A refresh already
// in flight for the same currency causes this one to be skipped; a fetch
// failure leaves the cached prices untouched.
func (p *PricePoller) Refresh(ctx context.Context) {
	currency := p.Currency()
	key := "prices:" + currency

	if !p.guard.TryStart(key) {
		if p.metrics != nil {
			p.metrics.RecordGuardRejection(key)
		}
		p.logger.DebugContext(ctx, "price refresh already in flight, skipping", "currency", currency)
		return
	}
	defer p.guard.EndSync(key)

	prices, err := p.feed.FetchPrices(ctx, currency)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPriceRefresh(currency, "error")
		}
		p.logger.WarnContext(ctx, "price refresh failed, keeping cached prices",
			"currency", currency,
			"error", err,
		)
		return
	}

	p.table.SetAll(currency, prices)
	if p.metrics != nil {
		p.metrics.RecordPriceRefresh(currency, "success")
	}
	p.logger.DebugContext(ctx, "price table refreshed",
		"currency", currency,
		"tokens", len(prices),
	)
}
