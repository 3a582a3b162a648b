package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/hntlabs/walletsync/service/metrics"
	"github.com/hntlabs/walletsync/service/wallet"
)

const publishTimeout = 5 * time.Second

// AttachStore wires the balance store's change notifications to the
// publisher. Publishing happens off the caller's goroutine so a slow or
// down NATS never blocks a sync or a live patch. If m is nil, no metrics
// will be recorded. Must be called before the store is shared.
func AttachStore(store *wallet.Store, pub Publisher, m *metrics.Metrics, logger *slog.Logger) {
	store.OnChange(func(key wallet.Key, snap wallet.BalanceSnapshot) {
		event := FromSnapshot(key, snap)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()

			subject := Subject(event.Cluster, event.WalletAddress)
			start := time.Now()
			err := pub.PublishBalanceEvent(ctx, event)
			if m != nil {
				status := "success"
				if err != nil {
					status = "error"
				}
				m.RecordNATSPublish(subject, status, time.Since(start).Seconds())
			}
			if err != nil {
				logger.WarnContext(ctx, "failed to publish balance event",
					"subject", subject,
					"error", err,
				)
			}
		}()
	})
}
