package solana

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/hntlabs/walletsync/service/metrics"
	"github.com/hntlabs/walletsync/service/wallet"
)

// AccountSubscription is a live feed of raw account bytes for one account.
type AccountSubscription interface {
	// Recv blocks until the next account update or ctx is done, returning
	// the account's raw data bytes.
	Recv(ctx context.Context) ([]byte, error)
	Unsubscribe()
}

// Subscriber creates live account subscriptions. The real implementation
// speaks the Solana websocket protocol; tests supply a fake.
type Subscriber interface {
	SubscribeAccount(ctx context.Context, account solana.PublicKey) (AccountSubscription, error)
}

// wsSubscriber implements Subscriber over a solana-go websocket client.
type wsSubscriber struct {
	client *ws.Client
}

// NewWSSubscriber connects to the cluster's websocket endpoint.
func NewWSSubscriber(ctx context.Context, wsURL string) (Subscriber, error) {
	client, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return &wsSubscriber{client: client}, nil
}

func (s *wsSubscriber) SubscribeAccount(ctx context.Context, account solana.PublicKey) (AccountSubscription, error) {
	sub, err := s.client.AccountSubscribeWithOpts(account, rpc.CommitmentConfirmed, solana.EncodingBase64)
	if err != nil {
		return nil, err
	}
	return &wsAccountSubscription{sub: sub}, nil
}

type wsAccountSubscription struct {
	sub *ws.AccountSubscription
}

func (s *wsAccountSubscription) Recv(ctx context.Context) ([]byte, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return res.Value.Data.GetBinary(), nil
}

func (s *wsAccountSubscription) Unsubscribe() {
	s.sub.Unsubscribe()
}

// AccountWatcher patches the balance store from live updates for a single
// token account. One watcher exists per token account currently rendered;
// it holds no state beyond the subscription and translates each push event
// into one store patch. A patch that lands before the first full sync, or
// for an entry the sync no longer tracks, is dropped by the store; the
// watcher only counts it.
type AccountWatcher struct {
	cluster      wallet.Cluster
	owner        string
	tokenAccount solana.PublicKey
	token        wallet.Token

	sub     AccountSubscription
	store   *wallet.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// WatchAccount subscribes to live updates for one token account and starts
// patching the store until Close is called.
func WatchAccount(
	ctx context.Context,
	subscriber Subscriber,
	cluster wallet.Cluster,
	owner solana.PublicKey,
	tokenAccount solana.PublicKey,
	token wallet.Token,
	store *wallet.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*AccountWatcher, error) {
	sub, err := subscriber.SubscribeAccount(ctx, tokenAccount)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w := &AccountWatcher{
		cluster:      cluster,
		owner:        owner.String(),
		tokenAccount: tokenAccount,
		token:        token,
		sub:          sub,
		store:        store,
		metrics:      m,
		logger:       logger,
		cancel:       cancel,
	}

	w.done.Add(1)
	go w.run(runCtx)
	return w, nil
}

func (w *AccountWatcher) run(ctx context.Context) {
	defer w.done.Done()

	for {
		data, err := w.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.WarnContext(ctx, "account subscription closed",
				"cluster", w.cluster,
				"token_account", w.tokenAccount.String(),
				"error", err,
			)
			return
		}

		decoded, err := DecodeTokenAccount(data)
		if err != nil {
			w.logger.WarnContext(ctx, "ignoring undecodable account update",
				"cluster", w.cluster,
				"token_account", w.tokenAccount.String(),
				"error", err,
			)
			continue
		}

		applied := w.store.PatchTokenBalance(w.cluster, w.owner, w.tokenAccount, w.token, decoded.Amount)
		if w.metrics != nil {
			w.metrics.RecordPatch(string(w.cluster), applied)
		}
		if !applied {
			w.logger.DebugContext(ctx, "live update dropped, no matching snapshot entry",
				"cluster", w.cluster,
				"address", w.owner,
				"token", w.token,
			)
		}
	}
}

// Close unsubscribes and waits for the patch loop to exit. No updates are
// delivered after Close returns.
func (w *AccountWatcher) Close() {
	w.cancel()
	w.sub.Unsubscribe()
	w.done.Wait()
}
