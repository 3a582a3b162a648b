package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPriceFeed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("currency"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hnt": 2.61, "mobile": 0.00082, "iot": 0.00041, "sol": 142.55}`))
	}))
	defer server.Close()

	feed := NewHTTPPriceFeed(server.URL, nil, logger)
	prices, err := feed.FetchPrices(context.Background(), "USD")
	require.NoError(t, err)

	assert.True(t, prices["hnt"].Equal(decimal.RequireFromString("2.61")))
	assert.True(t, prices["sol"].Equal(decimal.RequireFromString("142.55")))
	assert.Len(t, prices, 4)
}

func TestHTTPPriceFeed_ServerError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	feed := NewHTTPPriceFeed(server.URL, nil, logger)
	_, err := feed.FetchPrices(context.Background(), "usd")
	assert.Error(t, err)
}

// stubPriceFeed is a canned PriceFeed for poller tests.
type stubPriceFeed struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	err     error
	calls   int
	blockCh chan struct{} // when non-nil, FetchPrices blocks until closed
}

func (s *stubPriceFeed) FetchPrices(ctx context.Context, currency string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	s.calls++
	block := s.blockCh
	err := s.err
	prices := s.prices
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return prices, nil
}

func TestPricePoller_RefreshPopulatesTable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := NewPriceTable()
	feed := &stubPriceFeed{prices: map[string]decimal.Decimal{"hnt": decimal.RequireFromString("2.61")}}
	poller := NewPricePoller(table, feed, NewGuard(), "usd", 0, nil, logger)

	poller.Refresh(context.Background())

	price, ok := table.Price("usd", "hnt")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("2.61")))
	_, ok = table.UpdatedAt("usd")
	assert.True(t, ok)
}

func TestPricePoller_FailureKeepsCachedPrices(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := NewPriceTable()
	feed := &stubPriceFeed{prices: map[string]decimal.Decimal{"hnt": decimal.RequireFromString("2.61")}}
	poller := NewPricePoller(table, feed, NewGuard(), "usd", 0, nil, logger)

	poller.Refresh(context.Background())

	feed.mu.Lock()
	feed.err = errors.New("feed unavailable")
	feed.mu.Unlock()
	poller.Refresh(context.Background())

	price, ok := table.Price("usd", "hnt")
	require.True(t, ok, "failed refresh must not clear the table")
	assert.True(t, price.Equal(decimal.RequireFromString("2.61")))
}

func TestPricePoller_OverlappingRefreshSkipped(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := NewPriceTable()
	block := make(chan struct{})
	feed := &stubPriceFeed{
		prices:  map[string]decimal.Decimal{"hnt": decimal.NewFromInt(1)},
		blockCh: block,
	}
	poller := NewPricePoller(table, feed, NewGuard(), "usd", 0, nil, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Refresh(context.Background())
	}()

	// Wait for the first refresh to be in flight, then attempt a second.
	for {
		feed.mu.Lock()
		started := feed.calls > 0
		feed.mu.Unlock()
		if started {
			break
		}
	}
	feed.mu.Lock()
	feed.blockCh = nil
	feed.mu.Unlock()

	poller.Refresh(context.Background()) // guard refuses while first is blocked

	feed.mu.Lock()
	calls := feed.calls
	feed.mu.Unlock()
	assert.Equal(t, 1, calls, "second refresh must be skipped while first is in flight")

	close(block)
	<-done
}

func TestPricePoller_SetCurrency(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := NewPriceTable()
	feed := &stubPriceFeed{prices: map[string]decimal.Decimal{"hnt": decimal.NewFromInt(2)}}
	poller := NewPricePoller(table, feed, NewGuard(), "usd", 0, nil, logger)

	poller.SetCurrency("EUR")
	assert.Equal(t, "eur", poller.Currency())

	poller.Refresh(context.Background())
	_, ok := table.Price("eur", "hnt")
	assert.True(t, ok)
}
