package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/hntlabs/walletsync/service/activity"
	"github.com/hntlabs/walletsync/service/metrics"
	"github.com/hntlabs/walletsync/service/pricing"
	"github.com/hntlabs/walletsync/service/view"
	"github.com/hntlabs/walletsync/service/wallet"
)

const maxAddressLength = 100 // Solana addresses are 44 chars, give buffer

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleGetBalances returns a handler that serves the derived balance view
// for a wallet.
// GET /api/v1/balances/{cluster}/{address}?currency={currency}
// Responds 404 until the first full sync has populated the store; clients
// trigger one with the sync endpoint.
func handleGetBalances(store *wallet.Store, prices *pricing.PriceTable, oracle *pricing.OracleCache, defaultCurrency string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cluster, address, ok := clusterAndAddress(w, r, logger)
		if !ok {
			return
		}
		currency := currencyOrDefault(r, defaultCurrency)

		fig, derived := view.Derive(store, prices, oracle, wallet.Key{Cluster: cluster, Address: address}, currency)
		if !derived {
			writeError(w, "no balances cached for wallet; trigger a sync first", http.StatusNotFound)
			return
		}

		logger.DebugContext(r.Context(), "balances served",
			"cluster", cluster,
			"address", address,
			"currency", currency,
		)
		writeJSON(w, fig, http.StatusOK)
	})
}

// handleSyncBalances returns a handler that triggers a full balance sync.
// POST /api/v1/balances/{cluster}/{address}/sync
// The sync runs synchronously; a second request for the same wallet while
// one is in flight gets 409. Sync failure keeps any cached snapshot.
func handleSyncBalances(syncers map[wallet.Cluster]Syncer, guard *pricing.Guard, store *wallet.Store, prices *pricing.PriceTable, oracle *pricing.OracleCache, defaultCurrency string, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cluster, address, ok := clusterAndAddress(w, r, logger)
		if !ok {
			return
		}

		owner, err := solanago.PublicKeyFromBase58(address)
		if err != nil {
			writeError(w, "invalid address: not a valid public key", http.StatusBadRequest)
			return
		}

		syncer, ok := syncers[cluster]
		if !ok {
			writeError(w, fmt.Sprintf("cluster %s is not configured", cluster), http.StatusBadRequest)
			return
		}

		guardKey := fmt.Sprintf("sync:%s:%s", cluster, address)
		if !guard.TryStart(guardKey) {
			if m != nil {
				m.RecordGuardRejection(guardKey)
			}
			writeError(w, "sync already in flight for wallet", http.StatusConflict)
			return
		}
		defer guard.EndSync(guardKey)

		if err := syncer.Sync(r.Context(), owner); err != nil {
			logger.ErrorContext(r.Context(), "balance sync failed",
				"cluster", cluster,
				"address", address,
				"error", err,
			)
			writeError(w, "sync failed; cached balances unchanged", http.StatusBadGateway)
			return
		}

		currency := currencyOrDefault(r, defaultCurrency)
		fig, derived := view.Derive(store, prices, oracle, wallet.Key{Cluster: cluster, Address: address}, currency)
		if !derived {
			// Sync succeeded but nothing is cached; should not happen.
			writeError(w, "sync completed but no snapshot cached", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "balance sync completed",
			"cluster", cluster,
			"address", address,
		)
		writeJSON(w, fig, http.StatusOK)
	})
}

// handleGetRates returns the current HNT to data-credit conversion rate.
// GET /api/v1/rates
func handleGetRates(oracle *pricing.OracleCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rate, ok := oracle.DCPerHNT()
		if !ok {
			writeError(w, "conversion rate unavailable", http.StatusServiceUnavailable)
			return
		}

		price, _ := oracle.Current()
		writeJSON(w, map[string]interface{}{
			"dc_per_hnt":     rate,
			"ema_price":      price.EmaPrice,
			"ema_confidence": price.EmaConfidence,
			"exponent":       price.Exponent,
		}, http.StatusOK)
	})
}

// handleGetHistory returns the balance-history series for a wallet.
// GET /api/v1/history/{cluster}/{address}?currency={currency}
// Requesting a key activates it on the fetcher, which refreshes the series
// unless a fetch for the same key is already in flight.
func handleGetHistory(cache *pricing.HistoryCache, fetcher *pricing.HistoryFetcher, defaultCurrency string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cluster, address, ok := clusterAndAddress(w, r, logger)
		if !ok {
			return
		}
		currency := currencyOrDefault(r, defaultCurrency)

		key := pricing.HistoryKey{Cluster: cluster, Address: address, Currency: currency}
		fetcher.SetKey(r.Context(), key)

		points, ok := cache.Series(key)
		if !ok {
			writeError(w, "no history available for wallet", http.StatusNotFound)
			return
		}

		writeJSON(w, map[string]interface{}{
			"cluster":  cluster,
			"address":  address,
			"currency": currency,
			"points":   points,
		}, http.StatusOK)
	})
}

// handleGetActivity returns a handler that serves the merged activity feed.
// GET /api/v1/activity/{address}?page=next
// A plain GET refreshes the head of the feed and returns the full cached
// series; page=next follows the cached cursor first. Upstream failure
// serves the cached series when one exists.
func handleGetActivity(feed *activity.Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var fetchErr error
		if r.URL.Query().Get("page") == "next" {
			_, fetchErr = feed.LoadMore(r.Context(), address)
		} else {
			fetchErr = feed.Refresh(r.Context(), address)
		}

		cursor, records, ok := feed.Read(address)
		if fetchErr != nil {
			logger.WarnContext(r.Context(), "activity fetch failed",
				"address", address,
				"error", fetchErr,
			)
			if !ok {
				writeError(w, "activity feed unavailable", http.StatusBadGateway)
				return
			}
			// Stale beats absent: fall through with the cached series.
		}

		if records == nil {
			records = []activity.Record{}
		}
		writeJSON(w, map[string]interface{}{
			"address": address,
			"cursor":  cursor,
			"records": records,
		}, http.StatusOK)
	})
}

// clusterAndAddress extracts and validates the {cluster}/{address} path
// values, writing the error response itself on failure.
func clusterAndAddress(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (wallet.Cluster, string, bool) {
	cluster, err := wallet.ParseCluster(r.PathValue("cluster"))
	if err != nil {
		logger.Debug("invalid cluster", "cluster", r.PathValue("cluster"), "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}

	address := r.PathValue("address")
	if err := validateAddress(address); err != nil {
		logger.Debug("invalid address", "address", address, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}

	return cluster, address, true
}

func currencyOrDefault(r *http.Request, fallback string) string {
	if c := r.URL.Query().Get("currency"); c != "" {
		return strings.ToLower(c)
	}
	return fallback
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a convenience wrapper so validation errors read naturally.
func errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
