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
	"github.com/hntlabs/walletsync/service/wallet"
)

// HistoryPoint is one sample of a wallet's fiat-converted balance.
type HistoryPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Balance   decimal.Decimal `json:"balance"`
}

// HistoryKey identifies one balance-history series.
type HistoryKey struct {
	Cluster  wallet.Cluster
	Address  string
	Currency string
}

func (k HistoryKey) String() string {
	return fmt.Sprintf("history:%s:%s:%s", k.Cluster, k.Address, k.Currency)
}

// HistorySource fetches a wallet's balance-history series.
type HistorySource interface {
	FetchHistory(ctx context.Context, key HistoryKey) ([]HistoryPoint, error)
}

// HTTPHistorySource is a HistorySource over a JSON HTTP API.
type HTTPHistorySource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPHistorySource creates a history source client.
func NewHTTPHistorySource(baseURL string, httpClient *http.Client) *HTTPHistorySource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPHistorySource{baseURL: baseURL, httpClient: httpClient}
}

// FetchHistory requests the series for one (cluster, address, currency).
func (s *HTTPHistorySource) FetchHistory(ctx context.Context, key HistoryKey) ([]HistoryPoint, error) {
	u := fmt.Sprintf("%s/history?cluster=%s&address=%s&currency=%s",
		s.baseURL,
		url.QueryEscape(string(key.Cluster)),
		url.QueryEscape(key.Address),
		url.QueryEscape(strings.ToLower(key.Currency)),
	)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history API returned status %d", resp.StatusCode)
	}

	var points []HistoryPoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	return points, nil
}

// HistoryArchive persists fetched series. The in-memory cache stays
// authoritative; archiving is best-effort write-through.
type HistoryArchive interface {
	InsertHistoryPoints(ctx context.Context, key HistoryKey, points []HistoryPoint) error
}

// HistoryCache caches one series per (cluster, address, currency) with
// simple overwrite-on-refresh semantics.
type HistoryCache struct {
	mu        sync.RWMutex
	series    map[HistoryKey][]HistoryPoint
	updatedAt map[HistoryKey]time.Time
}

// NewHistoryCache creates an empty history cache.
func NewHistoryCache() *HistoryCache {
	return &HistoryCache{
		series:    make(map[HistoryKey][]HistoryPoint),
		updatedAt: make(map[HistoryKey]time.Time),
	}
}

// Series returns a copy of the cached series for the key.
func (c *HistoryCache) Series(key HistoryKey) ([]HistoryPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	points, ok := c.series[key]
	if !ok {
		return nil, false
	}
	out := make([]HistoryPoint, len(points))
	copy(out, points)
	return out, true
}

func (c *HistoryCache) set(key HistoryKey, points []HistoryPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[key] = points
	c.updatedAt[key] = time.Now().UTC()
}

// HistoryFetcher refreshes the balance-history series for the active
// (cluster, address, currency) key. A refresh fires when the key changes
// and when the app foregrounds (Resume). Each fetch is generation-tagged:
// if the key changes while a fetch is in flight, the stale result is
// discarded instead of overwriting the new key's state.
type HistoryFetcher struct {
	cache   *HistoryCache
	source  HistorySource
	guard   *Guard
	archive HistoryArchive // optional
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu  sync.Mutex
	cur HistoryKey
	gen uint64
}

// NewHistoryFetcher creates a fetcher. archive and m may be nil.
func NewHistoryFetcher(cache *HistoryCache, source HistorySource, guard *Guard, archive HistoryArchive, m *metrics.Metrics, logger *slog.Logger) *HistoryFetcher {
	return &HistoryFetcher{
		cache:   cache,
		source:  source,
		guard:   guard,
		archive: archive,
		metrics: m,
		logger:  logger,
	}
}

// SetKey switches the active key and refreshes its series.
func (f *HistoryFetcher) SetKey(ctx context.Context, key HistoryKey) {
	f.mu.Lock()
	f.cur = key
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	f.refresh(ctx, key, gen)
}

// Resume refetches the active key's series, e.g. on app foreground.
func (f *HistoryFetcher) Resume(ctx context.Context) {
	f.mu.Lock()
	key := f.cur
	gen := f.gen
	f.mu.Unlock()

	if key == (HistoryKey{}) {
		return
	}
	f.refresh(ctx, key, gen)
}

func (f *HistoryFetcher) current() (HistoryKey, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur, f.gen
}

func (f *HistoryFetcher) refresh(ctx context.Context, key HistoryKey, gen uint64) {
	guardKey := key.String()
	if !f.guard.TryStart(guardKey) {
		if f.metrics != nil {
			f.metrics.RecordGuardRejection(guardKey)
		}
		return
	}
	defer f.guard.EndSync(guardKey)

	points, err := f.source.FetchHistory(ctx, key)
	if err != nil {
		f.logger.WarnContext(ctx, "history refresh failed, keeping cached series",
			"cluster", key.Cluster,
			"address", key.Address,
			"currency", key.Currency,
			"error", err,
		)
		return
	}

	// Discard if the key moved on while we were fetching.
	if _, cur := f.current(); cur != gen {
		f.logger.DebugContext(ctx, "history result superseded, discarded",
			"cluster", key.Cluster,
			"address", key.Address,
		)
		return
	}

	f.cache.set(key, points)

	if f.archive != nil {
		if err := f.archive.InsertHistoryPoints(ctx, key, points); err != nil {
			f.logger.WarnContext(ctx, "failed to archive history points", "error", err)
		}
	}

	f.logger.DebugContext(ctx, "balance history refreshed",
		"cluster", key.Cluster,
		"address", key.Address,
		"currency", key.Currency,
		"points", len(points),
	)
}
