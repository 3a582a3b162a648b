package pricing

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/hntlabs/walletsync/service/metrics"
	solclient "github.com/hntlabs/walletsync/service/solana"
)

// dcPerUSD converts a USD amount into data credits: one DC is a fixed
// $0.00001, so one dollar buys 100,000 DC.
var dcPerUSD = decimal.NewFromInt(100_000)

var two = decimal.NewFromInt(2)

// OraclePrice is the raw fixed-point oracle reading for the network token's
// USD price: an exponential-moving-average price and its confidence
// interval, both scaled by 10^Exponent.
type OraclePrice struct {
	EmaPrice      int64
	EmaConfidence int64
	Exponent      int32
}

// DCPerHNT derives the authoritative HNT→DC conversion rate. Twice the
// confidence interval is subtracted from the EMA price so advertised
// conversions never overstate the data-credit value of a holding. The rate
// is absent when the margined price is not positive.
func (p OraclePrice) DCPerHNT() (decimal.Decimal, bool) {
	ema := decimal.New(p.EmaPrice, p.Exponent)
	conf := decimal.New(p.EmaConfidence, p.Exponent)
	usd := ema.Sub(conf.Mul(two))
	if !usd.IsPositive() {
		return decimal.Decimal{}, false
	}
	return usd.Mul(dcPerUSD), true
}

// OracleSource fetches the current oracle price reading.
type OracleSource interface {
	FetchOraclePrice(ctx context.Context) (OraclePrice, error)
}

// Pyth price-account field offsets (price_account_v2 layout).
const (
	pythExponentOffset = 20
	pythEmaPriceOffset = 48
	pythEmaConfOffset  = 72
	pythMinAccountLen  = 96
)

// ChainOracleSource reads the oracle price from the on-chain Pyth price
// account for the network token.
type ChainOracleSource struct {
	chain   solclient.ChainClient
	account solana.PublicKey
	logger  *slog.Logger
}

// NewChainOracleSource creates an oracle source reading the given price
// account.
func NewChainOracleSource(chain solclient.ChainClient, account solana.PublicKey, logger *slog.Logger) *ChainOracleSource {
	return &ChainOracleSource{chain: chain, account: account, logger: logger}
}

// FetchOraclePrice fetches and decodes the price account. Malformed account
// bytes are surfaced, never defaulted.
func (s *ChainOracleSource) FetchOraclePrice(ctx context.Context) (OraclePrice, error) {
	result, err := s.chain.GetAccountInfo(ctx, s.account)
	if err != nil {
		return OraclePrice{}, fmt.Errorf("failed to get oracle account: %w", err)
	}
	if result == nil || result.Value == nil {
		return OraclePrice{}, fmt.Errorf("oracle account %s does not exist", s.account)
	}

	data := result.Value.Data.GetBinary()
	if len(data) < pythMinAccountLen {
		return OraclePrice{}, fmt.Errorf("%w: oracle account is %d bytes", solclient.ErrDecode, len(data))
	}

	return OraclePrice{
		EmaPrice:      int64(binary.LittleEndian.Uint64(data[pythEmaPriceOffset : pythEmaPriceOffset+8])),
		EmaConfidence: int64(binary.LittleEndian.Uint64(data[pythEmaConfOffset : pythEmaConfOffset+8])),
		Exponent:      int32(binary.LittleEndian.Uint32(data[pythExponentOffset : pythExponentOffset+4])),
	}, nil
}

// OracleCache holds the latest oracle reading. The cached rate is treated
// as the authoritative conversion rate between refreshes; a failed refresh
// keeps the previous reading.
type OracleCache struct {
	mu        sync.RWMutex
	price     OraclePrice
	has       bool
	updatedAt time.Time
}

// NewOracleCache creates an empty oracle cache.
func NewOracleCache() *OracleCache {
	return &OracleCache{}
}

// Current returns the latest oracle reading, if any.
func (c *OracleCache) Current() (OraclePrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.price, c.has
}

// DCPerHNT returns the derived conversion rate, absent when no reading is
// cached or the margined price is not positive.
func (c *OracleCache) DCPerHNT() (decimal.Decimal, bool) {
	price, ok := c.Current()
	if !ok {
		return decimal.Decimal{}, false
	}
	return price.DCPerHNT()
}

func (c *OracleCache) set(price OraclePrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = price
	c.has = true
	c.updatedAt = time.Now().UTC()
}

// OraclePoller refreshes the oracle cache on a fixed interval.
type OraclePoller struct {
	cache    *OracleCache
	source   OracleSource
	guard    *Guard
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
}

// NewOraclePoller creates a poller. If m is nil, no metrics will be recorded.
func NewOraclePoller(cache *OracleCache, source OracleSource, guard *Guard, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *OraclePoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &OraclePoller{
		cache:    cache,
		source:   source,
		guard:    guard,
		metrics:  m,
		logger:   logger,
		interval: interval,
	}
}

// Run blocks until ctx is done, refreshing immediately and then on every tick.
func (p *OraclePoller) Run(ctx context.Context) {
	p.Refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh fetches the oracle price once, guarded against overlap.
func (p *OraclePoller) Refresh(ctx context.Context) {
	const key = "oracle"

	if !p.guard.TryStart(key) {
		if p.metrics != nil {
			p.metrics.RecordGuardRejection(key)
		}
		return
	}
	defer p.guard.EndSync(key)

	price, err := p.source.FetchOraclePrice(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordOracleRefresh("error")
		}
		p.logger.WarnContext(ctx, "oracle refresh failed, keeping cached reading", "error", err)
		return
	}

	p.cache.set(price)
	if p.metrics != nil {
		p.metrics.RecordOracleRefresh("success")
	}
	p.logger.DebugContext(ctx, "oracle price refreshed",
		"ema_price", price.EmaPrice,
		"ema_confidence", price.EmaConfidence,
		"exponent", price.Exponent,
	)
}
