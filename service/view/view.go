package view

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hntlabs/walletsync/service/pricing"
	"github.com/hntlabs/walletsync/service/wallet"
)

// State is the lifecycle of the derived figures for one key.
//
// Empty: nothing to show (never computed, or hard-cleared by a key change).
// Stale: a recomputation is in flight; the retained value stays visible.
// Fresh: the value reflects the most recent completed recomputation.
type State int

const (
	Empty State = iota
	Stale
	Fresh
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	}
	return "unknown"
}

// TokenFigure is one token's derived, human-facing balance.
type TokenFigure struct {
	Token         wallet.Token    `json:"token"`
	Balance       uint64          `json:"balance"`
	Amount        decimal.Decimal `json:"amount"`
	Formatted     string          `json:"formatted"`
	FiatValue     decimal.Decimal `json:"fiat_value"`
	FormattedFiat string          `json:"formatted_fiat"`
	HasPrice      bool            `json:"has_price"`
	IsEscrow      bool            `json:"is_escrow,omitempty"`
}

// Figures is the full set of derived balance values for one key.
type Figures struct {
	Cluster   wallet.Cluster  `json:"cluster"`
	Address   string          `json:"address"`
	Currency  string          `json:"currency"`
	Tokens    []TokenFigure   `json:"tokens"`
	TotalFiat decimal.Decimal `json:"total_fiat"`
	HasTotal  bool            `json:"has_total"`

	DCPerHNT    decimal.Decimal `json:"dc_per_hnt"`
	HasDCPerHNT bool            `json:"has_dc_per_hnt"`
}

// View derives fiat-converted, formatted balance figures for the active
// (cluster, wallet address) key from the balance store, price table, and
// oracle cache. It never propagates an error: while a recomputation is in
// flight the previous value stays visible (stale-while-revalidate), but a
// key change discards the value immediately: a stale balance for the wrong
// account must never be shown.
type View struct {
	store  *wallet.Store
	prices *pricing.PriceTable
	oracle *pricing.OracleCache
	logger *slog.Logger

	mu       sync.Mutex
	key      wallet.Key
	currency string
	state    State
	value    Figures
	gen      uint64
}

// New creates a view with no active key.
func New(store *wallet.Store, prices *pricing.PriceTable, oracle *pricing.OracleCache, currency string, logger *slog.Logger) *View {
	return &View{
		store:    store,
		prices:   prices,
		oracle:   oracle,
		currency: strings.ToLower(currency),
		logger:   logger,
	}
}

// Current returns the presently visible figures and their state. In the
// Empty state the figures are meaningless and ok is false.
func (v *View) Current() (Figures, State, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.state, v.state != Empty
}

// KeyChanged switches the active key and hard-clears the visible value.
// Any in-flight recomputation for the old key is invalidated.
func (v *View) KeyChanged(cluster wallet.Cluster, address string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = wallet.Key{Cluster: cluster, Address: address}
	v.state = Empty
	v.value = Figures{}
	v.gen++
}

// SetCurrency switches the fiat currency without clearing the visible
// value; the next recomputation converts into the new currency.
func (v *View) SetCurrency(currency string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currency = strings.ToLower(currency)
}

// RecomputeStarted marks a recomputation as in flight and returns the
// active key and currency together with the generation the eventual
// result must carry. All three are captured under one lock so a
// concurrent KeyChanged cannot pair the old key with the new key's
// generation. A Fresh value degrades to Stale but stays visible.
func (v *View) RecomputeStarted() (wallet.Key, string, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Fresh {
		v.state = Stale
	}
	return v.key, v.currency, v.gen
}

// RecomputeFinished installs a computed value if gen is still current.
// A false return means the key changed mid-flight and the result was
// discarded; the view stays Empty for the new key.
func (v *View) RecomputeFinished(fig Figures, gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.value = fig
	v.state = Fresh
	return true
}

// Recompute derives figures for the active key from the current snapshot,
// prices, and oracle rate, driving the state machine. With no snapshot yet
// the view simply stays in its current state.
func (v *View) Recompute(ctx context.Context) {
	key, currency, gen := v.RecomputeStarted()
	if key == (wallet.Key{}) {
		return
	}

	fig, ok := Derive(v.store, v.prices, v.oracle, key, currency)
	if !ok {
		return
	}

	if !v.RecomputeFinished(fig, gen) {
		v.logger.DebugContext(ctx, "derived figures superseded by key change",
			"cluster", key.Cluster,
			"address", key.Address,
		)
	}
}

// Derive computes the figures for one key from the current snapshot,
// prices, and oracle rate. ok is false when no snapshot is cached yet.
func Derive(store *wallet.Store, prices *pricing.PriceTable, oracle *pricing.OracleCache, key wallet.Key, currency string) (Figures, bool) {
	snap, ok := store.ReadSnapshot(key.Cluster, key.Address)
	if !ok {
		return Figures{}, false
	}

	fig := Figures{
		Cluster:  key.Cluster,
		Address:  key.Address,
		Currency: currency,
	}

	total := decimal.Zero
	hasAny := false

	add := func(token wallet.Token, balance uint64, escrow bool) {
		tf := TokenFigure{
			Token:    token,
			Balance:  balance,
			Amount:   amountOf(token, balance),
			IsEscrow: escrow,
		}
		tf.Formatted = fmt.Sprintf("%s %s", tf.Amount.StringFixed(4), token)
		if price, ok := prices.Price(currency, string(token)); ok {
			tf.FiatValue = tf.Amount.Mul(price)
			tf.FormattedFiat = fmt.Sprintf("%s %s", tf.FiatValue.StringFixed(2), strings.ToUpper(currency))
			tf.HasPrice = true
			total = total.Add(tf.FiatValue)
			hasAny = true
		}
		fig.Tokens = append(fig.Tokens, tf)
	}

	for _, ata := range snap.ATABalances {
		add(ata.Token, ata.Balance, false)
	}
	add(wallet.TokenSOL, snap.Native.Balance, false)
	add(wallet.TokenDC, snap.Escrow.Balance, true)

	fig.TotalFiat = total
	fig.HasTotal = hasAny

	if rate, ok := oracle.DCPerHNT(); ok {
		fig.DCPerHNT = rate
		fig.HasDCPerHNT = true
	}

	return fig, true
}

// amountOf converts a raw base-unit balance into a whole-token amount.
// Balances are unsigned on chain and must stay non-negative here, even
// above the int64 range.
func amountOf(token wallet.Token, balance uint64) decimal.Decimal {
	return decimal.NewFromUint64(balance).Shift(-token.Decimals())
}

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// toUint64 truncates a non-negative decimal into a uint64, saturating at
// the type's maximum instead of wrapping.
func toUint64(d decimal.Decimal) uint64 {
	if d.GreaterThan(maxUint64) {
		return math.MaxUint64
	}
	return d.BigInt().Uint64()
}

// HNTToDC converts a raw HNT balance (bones) into data credits using the
// oracle rate. Absent when no usable rate is cached.
func (v *View) HNTToDC(bones uint64) (uint64, bool) {
	rate, ok := v.oracle.DCPerHNT()
	if !ok {
		return 0, false
	}
	hnt := amountOf(wallet.TokenHNT, bones)
	return toUint64(hnt.Mul(rate)), true
}

// DCToHNT converts a data-credit balance into a raw HNT balance (bones).
// Absent when no usable rate is cached; never divides by zero.
func (v *View) DCToHNT(dc uint64) (uint64, bool) {
	rate, ok := v.oracle.DCPerHNT()
	if !ok || rate.IsZero() {
		return 0, false
	}
	hnt := decimal.NewFromUint64(dc).Div(rate)
	return toUint64(hnt.Shift(wallet.TokenHNT.Decimals())), true
}
