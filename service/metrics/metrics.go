package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the engine.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Balance sync metrics
	syncsTotal          *prometheus.CounterVec
	syncDuration        *prometheus.HistogramVec
	syncsDiscardedTotal *prometheus.CounterVec
	patchesTotal        *prometheus.CounterVec

	// Activity cache metrics
	activityMergesTotal  *prometheus.CounterVec
	activityCacheRecords *prometheus.GaugeVec

	// Price and oracle metrics
	priceRefreshesTotal  *prometheus.CounterVec
	oracleRefreshesTotal *prometheus.CounterVec
	guardRejectionsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		syncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_syncs_total",
				Help: "Total number of full balance syncs by cluster and status",
			},
			[]string{"cluster", "status"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balance_sync_duration_seconds",
				Help:    "Duration of full balance syncs in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"cluster"},
		),
		syncsDiscardedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_syncs_discarded_total",
				Help: "Full sync results discarded because a newer sync for the key began",
			},
			[]string{"cluster"},
		),
		patchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_patches_total",
				Help: "Live balance patches by cluster and outcome (applied or dropped)",
			},
			[]string{"cluster", "outcome"},
		),

		activityMergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_merges_total",
				Help: "Activity cache merges by outcome (union, replace, seed)",
			},
			[]string{"outcome"},
		),
		activityCacheRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "activity_cache_records",
				Help: "Number of records currently cached per wallet address",
			},
			[]string{"wallet_address"},
		),

		priceRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_refreshes_total",
				Help: "Token price table refreshes by currency and status",
			},
			[]string{"currency", "status"},
		),
		oracleRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_refreshes_total",
				Help: "Oracle price refreshes by status",
			},
			[]string{"status"},
		),
		guardRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_guard_rejections_total",
				Help: "Fetches skipped because one was already in flight for the key",
			},
			[]string{"key"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Balance sync metric helpers

// RecordSync records a completed full balance sync.
func (m *Metrics) RecordSync(cluster, status string, duration float64) {
	m.syncsTotal.WithLabelValues(cluster, status).Inc()
	m.syncDuration.WithLabelValues(cluster).Observe(duration)
}

// RecordSyncDiscarded records a sync result dropped as superseded.
func (m *Metrics) RecordSyncDiscarded(cluster string) {
	m.syncsDiscardedTotal.WithLabelValues(cluster).Inc()
}

// RecordPatch records a live balance patch and whether the store applied it.
func (m *Metrics) RecordPatch(cluster string, applied bool) {
	outcome := "applied"
	if !applied {
		outcome = "dropped"
	}
	m.patchesTotal.WithLabelValues(cluster, outcome).Inc()
}

// Activity cache metric helpers

// RecordActivityMerge records a cache merge by outcome.
func (m *Metrics) RecordActivityMerge(outcome string) {
	m.activityMergesTotal.WithLabelValues(outcome).Inc()
}

// RecordActivityCacheSize records the post-merge cache size for a wallet.
func (m *Metrics) RecordActivityCacheSize(walletAddress string, size int) {
	m.activityCacheRecords.WithLabelValues(walletAddress).Set(float64(size))
}

// Price and oracle metric helpers

// RecordPriceRefresh records a price table refresh attempt.
func (m *Metrics) RecordPriceRefresh(currency, status string) {
	m.priceRefreshesTotal.WithLabelValues(currency, status).Inc()
}

// RecordOracleRefresh records an oracle price refresh attempt.
func (m *Metrics) RecordOracleRefresh(status string) {
	m.oracleRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordGuardRejection records a fetch skipped by the single-flight guard.
func (m *Metrics) RecordGuardRejection(key string) {
	m.guardRejectionsTotal.WithLabelValues(key).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
