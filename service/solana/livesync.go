package solana

import (
	"context"
	"log/slog"
	"sync"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/hntlabs/walletsync/service/metrics"
	"github.com/hntlabs/walletsync/service/wallet"
)

// SubscriberDial opens a live account subscription channel to a cluster.
type SubscriberDial func(ctx context.Context) (Subscriber, error)

// WSDial returns a SubscriberDial for the cluster's websocket endpoint.
func WSDial(wsURL string) SubscriberDial {
	return func(ctx context.Context) (Subscriber, error) {
		return NewWSSubscriber(ctx, wsURL)
	}
}

// LiveSyncer couples the full synchronizer with the incremental patcher:
// every successful sync (re)subscribes one AccountWatcher per funded token
// account in the committed snapshot, so pushed updates keep the snapshot
// current between syncs. Watcher setup never fails a sync; the snapshot is
// already committed, and the next sync resubscribes. The websocket is
// dialed lazily on the first sync so a cluster nobody syncs against costs
// no connection.
type LiveSyncer struct {
	full    *Synchronizer
	store   *wallet.Store
	cluster wallet.Cluster
	dial    SubscriberDial
	metrics *metrics.Metrics
	logger  *slog.Logger

	// base outlives any single request; watcher goroutines hang off it.
	base context.Context

	mu       sync.Mutex
	sub      Subscriber
	watchers map[string][]*AccountWatcher
}

// NewLiveSyncer creates a live syncer. base bounds the lifetime of every
// watcher and the lazily dialed subscription channel.
func NewLiveSyncer(base context.Context, full *Synchronizer, store *wallet.Store, cluster wallet.Cluster, dial SubscriberDial, m *metrics.Metrics, logger *slog.Logger) *LiveSyncer {
	return &LiveSyncer{
		full:     full,
		store:    store,
		cluster:  cluster,
		dial:     dial,
		metrics:  m,
		logger:   logger,
		base:     base,
		watchers: make(map[string][]*AccountWatcher),
	}
}

// Sync runs a full balance sync and then refreshes the wallet's live
// watchers from the committed snapshot.
func (l *LiveSyncer) Sync(ctx context.Context, owner solanago.PublicKey) error {
	if err := l.full.Sync(ctx, owner); err != nil {
		return err
	}
	l.refreshWatchers(owner)
	return nil
}

// refreshWatchers replaces the owner's watchers with one per funded token
// account in the current snapshot. A superseded sync leaves an older
// snapshot untouched, and resubscribing from it is harmless: the next
// current sync refreshes again.
func (l *LiveSyncer) refreshWatchers(owner solanago.PublicKey) {
	address := owner.String()
	snap, ok := l.store.ReadSnapshot(l.cluster, address)
	if !ok {
		return
	}

	sub, err := l.subscriber()
	if err != nil {
		l.logger.Warn("live updates unavailable, balances refresh on sync only",
			"cluster", l.cluster,
			"address", address,
			"error", err,
		)
		return
	}

	l.mu.Lock()
	old := l.watchers[address]
	delete(l.watchers, address)
	l.mu.Unlock()

	for _, w := range old {
		w.Close()
	}

	var fresh []*AccountWatcher
	for _, ata := range snap.ATABalances {
		if ata.TokenAccount == nil {
			continue
		}
		w, err := WatchAccount(l.base, sub, l.cluster, owner, *ata.TokenAccount, ata.Token, l.store, l.metrics, l.logger)
		if err != nil {
			l.logger.WarnContext(l.base, "failed to watch token account",
				"cluster", l.cluster,
				"address", address,
				"token", ata.Token,
				"error", err,
			)
			continue
		}
		fresh = append(fresh, w)
	}

	l.mu.Lock()
	l.watchers[address] = fresh
	l.mu.Unlock()

	l.logger.Debug("live watchers refreshed",
		"cluster", l.cluster,
		"address", address,
		"accounts", len(fresh),
	)
}

func (l *LiveSyncer) subscriber() (Subscriber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return l.sub, nil
	}
	sub, err := l.dial(l.base)
	if err != nil {
		return nil, err
	}
	l.sub = sub
	return sub, nil
}

// Close stops every watcher. No patches land after Close returns.
func (l *LiveSyncer) Close() {
	l.mu.Lock()
	watchers := l.watchers
	l.watchers = make(map[string][]*AccountWatcher)
	l.mu.Unlock()

	for _, ws := range watchers {
		for _, w := range ws {
			w.Close()
		}
	}
}
