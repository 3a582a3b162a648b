package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hntlabs/walletsync/service/activity"
	"github.com/hntlabs/walletsync/service/config"
	"github.com/hntlabs/walletsync/service/db"
	"github.com/hntlabs/walletsync/service/metrics"
	natspkg "github.com/hntlabs/walletsync/service/nats"
	"github.com/hntlabs/walletsync/service/pricing"
	"github.com/hntlabs/walletsync/service/server"
	solclient "github.com/hntlabs/walletsync/service/solana"
	"github.com/hntlabs/walletsync/service/wallet"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting walletsync server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// The balance store is the single source of truth for cached balances.
	store := wallet.NewStore(logger)

	// Postgres archive is optional; without it history and activity are
	// served from memory only.
	var archive *db.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		archive = db.NewStore(pool)
		if err := archive.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")
	} else {
		logger.Info("no DATABASE_URL set, archive disabled")
	}

	// Publish every committed balance change to JetStream so SSE clients
	// and other consumers see updates without polling.
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	natspkg.AttachStore(store, publisher, m, logger)

	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}

	// One synchronizer per configured cluster. The sync endpoint routes to
	// the cluster named in the request path; each successful sync also
	// refreshes live websocket watchers on the wallet's token accounts.
	syncers := make(map[wallet.Cluster]server.Syncer, len(wallet.Clusters))
	chains := make(map[wallet.Cluster]solclient.ChainClient, len(wallet.Clusters))
	for _, cluster := range wallet.Clusters {
		rpcURL, wsURL, err := cfg.Endpoints(cluster)
		if err != nil {
			logger.Error("missing cluster endpoints", "cluster", cluster, "error", err)
			os.Exit(1)
		}
		chain := solclient.NewChainClient(rpcURL)
		chains[cluster] = chain
		full := solclient.NewSynchronizer(cluster, chain, store, rpcURL, m, logger)
		live := solclient.NewLiveSyncer(ctx, full, store, cluster, solclient.WSDial(wsURL), m, logger)
		defer live.Close()
		syncers[cluster] = live
	}

	guard := pricing.NewGuard()

	// Fiat prices refresh on a fixed cadence from the price API.
	prices := pricing.NewPriceTable()
	priceFeed := pricing.NewHTTPPriceFeed(cfg.PriceAPIURL, nil, logger)
	pricePoller := pricing.NewPricePoller(prices, priceFeed, guard, cfg.DefaultCurrency, cfg.PricePollInterval, m, logger)
	go pricePoller.Run(ctx)

	// The HNT/USD oracle account lives on mainnet regardless of which
	// cluster a wallet is synced against.
	oracleAccount := solanago.MustPublicKeyFromBase58(cfg.OraclePriceAccount)
	oracle := pricing.NewOracleCache()
	oracleSource := pricing.NewChainOracleSource(chains[wallet.ClusterMainnet], oracleAccount, logger)
	oraclePoller := pricing.NewOraclePoller(oracle, oracleSource, guard, cfg.OraclePollInterval, m, logger)
	go oraclePoller.Run(ctx)

	history := pricing.NewHistoryCache()
	historySource := pricing.NewHTTPHistorySource(cfg.HistoryAPIURL, nil)
	var historyArchive pricing.HistoryArchive
	if archive != nil {
		historyArchive = archive
	}
	historyFetcher := pricing.NewHistoryFetcher(history, historySource, guard, historyArchive, m, logger)

	activityCache := activity.NewCache(m)
	activitySource := activity.NewHTTPSource(cfg.ActivityAPIURL, nil, logger)
	var activityArchive activity.Archive
	if archive != nil {
		activityArchive = archive
	}
	feed := activity.NewFeed(activityCache, activitySource, activityArchive, logger)

	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		store,
		prices,
		oracle,
		history,
		historyFetcher,
		feed,
		syncers,
		guard,
		ssePublisher,
		m,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
