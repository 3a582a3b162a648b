package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hntlabs/walletsync/service/activity"
	"github.com/hntlabs/walletsync/service/config"
	"github.com/hntlabs/walletsync/service/metrics"
	"github.com/hntlabs/walletsync/service/pricing"
	"github.com/hntlabs/walletsync/service/wallet"
)

// Syncer triggers a full balance sync for one wallet on one cluster.
// *solana.Synchronizer satisfies this; handlers depend on the interface so
// tests can substitute a fake.
type Syncer interface {
	Sync(ctx context.Context, owner solanago.PublicKey) error
}

// Server represents the HTTP server for the balance sync service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *wallet.Store
	prices       *pricing.PriceTable
	oracle       *pricing.OracleCache
	history      *pricing.HistoryCache
	fetcher      *pricing.HistoryFetcher
	feed         *activity.Feed
	syncers      map[wallet.Cluster]Syncer
	guard        *pricing.Guard
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(
	addr string,
	cfg *config.Config,
	store *wallet.Store,
	prices *pricing.PriceTable,
	oracle *pricing.OracleCache,
	history *pricing.HistoryCache,
	fetcher *pricing.HistoryFetcher,
	feed *activity.Feed,
	syncers map[wallet.Cluster]Syncer,
	guard *pricing.Guard,
	ssePublisher *SSEPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		prices:       prices,
		oracle:       oracle,
		history:      history,
		fetcher:      fetcher,
		feed:         feed,
		syncers:      syncers,
		guard:        guard,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := s.routes()

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = metrics.HTTPMetricsMiddleware(s.metrics, "api")(handler)
	}
	handler = corsMiddleware(handler)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Balance routes
	mux.Handle("GET /api/v1/balances/{cluster}/{address}", handleGetBalances(s.store, s.prices, s.oracle, s.cfg.DefaultCurrency, s.logger))
	mux.Handle("POST /api/v1/balances/{cluster}/{address}/sync", handleSyncBalances(s.syncers, s.guard, s.store, s.prices, s.oracle, s.cfg.DefaultCurrency, s.metrics, s.logger))

	// Conversion rate route
	mux.Handle("GET /api/v1/rates", handleGetRates(s.oracle, s.logger))

	// Balance history route
	mux.Handle("GET /api/v1/history/{cluster}/{address}", handleGetHistory(s.history, s.fetcher, s.cfg.DefaultCurrency, s.logger))

	// Activity routes
	mux.Handle("GET /api/v1/activity/{address}", handleGetActivity(s.feed, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/balances/{cluster}/{address}", handleStreamBalances(s.ssePublisher, s.logger))
		mux.Handle("GET /api/v1/stream/balances/{cluster}", handleStreamBalances(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return mux
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
