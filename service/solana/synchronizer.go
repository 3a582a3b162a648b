package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/hntlabs/walletsync/service/metrics"
	"github.com/hntlabs/walletsync/service/wallet"
)

// Synchronizer pulls full balance snapshots for a wallet on one cluster and
// writes them to the balance store. One synchronizer exists per cluster so
// each talks to its own RPC endpoint.
type Synchronizer struct {
	cluster  wallet.Cluster
	chain    ChainClient
	store    *wallet.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	endpoint string // RPC endpoint identifier for metrics

	mu      sync.Mutex
	loading map[string]bool
	lastErr map[string]error
}

// NewSynchronizer creates a synchronizer for one cluster.
// If m is nil, no metrics will be recorded.
func NewSynchronizer(cluster wallet.Cluster, chain ChainClient, store *wallet.Store, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		cluster:  cluster,
		chain:    chain,
		store:    store,
		metrics:  m,
		logger:   logger,
		endpoint: endpoint,
		loading:  make(map[string]bool),
		lastErr:  make(map[string]error),
	}
}

// Loading reports whether a full sync for the wallet is currently in flight.
func (s *Synchronizer) Loading(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[address]
}

// LastError returns the error from the wallet's most recent completed sync,
// or nil if it succeeded.
func (s *Synchronizer) LastError(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[address]
}

func (s *Synchronizer) setLoading(address string, v bool) {
	s.mu.Lock()
	s.loading[address] = v
	s.mu.Unlock()
}

func (s *Synchronizer) setErr(address string, err error) {
	s.mu.Lock()
	s.lastErr[address] = err
	s.mu.Unlock()
}

// Sync fetches all supported-token balances, the data-credit escrow balance,
// and the native lamport balance for the wallet, then replaces the cached
// snapshot wholesale. A failure anywhere except the escrow lookup aborts the
// sync and leaves any previously cached snapshot untouched; the escrow
// lookup tolerates failure as a zero balance because escrow absence is a
// normal empty-wallet state. Results from a sync superseded by a newer one
// for the same key are discarded.
func (s *Synchronizer) Sync(ctx context.Context, owner solana.PublicKey) error {
	address := owner.String()
	gen := s.store.BeginSync(s.cluster, address)

	s.setLoading(address, true)
	start := time.Now()
	snap, err := s.fetchSnapshot(ctx, owner)
	s.setLoading(address, false)
	s.setErr(address, err)

	status := "success"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordSync(string(s.cluster), status, time.Since(start).Seconds())
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "full balance sync failed, keeping cached snapshot",
			"cluster", s.cluster,
			"address", address,
			"error", err,
		)
		return err
	}

	if !s.store.ReplaceSnapshotIfCurrent(s.cluster, address, snap, gen) {
		if s.metrics != nil {
			s.metrics.RecordSyncDiscarded(string(s.cluster))
		}
		s.logger.DebugContext(ctx, "sync result superseded, discarded",
			"cluster", s.cluster,
			"address", address,
		)
		return nil
	}

	s.logger.InfoContext(ctx, "full balance sync complete",
		"cluster", s.cluster,
		"address", address,
		"native_lamports", snap.Native.Balance,
		"escrow_dc", snap.Escrow.Balance,
	)
	return nil
}

func (s *Synchronizer) fetchSnapshot(ctx context.Context, owner solana.PublicKey) (wallet.BalanceSnapshot, error) {
	byToken, err := s.fetchTokenAccounts(ctx, owner)
	if err != nil {
		return wallet.BalanceSnapshot{}, err
	}

	// Fixed order, one entry per supported mint. A mint with no decoded
	// account is simply unfunded: balance zero, no token account.
	atas := make([]wallet.TokenAccountSnapshot, 0, len(wallet.SupportedTokens))
	for _, token := range wallet.SupportedTokens {
		if ata, ok := byToken[token]; ok {
			atas = append(atas, ata)
		} else {
			atas = append(atas, wallet.TokenAccountSnapshot{Token: token})
		}
	}

	escrow, err := s.fetchEscrowBalance(ctx, owner)
	if err != nil {
		// Escrow failure tolerance: a transient RPC error here never
		// aborts the whole sync.
		s.logger.WarnContext(ctx, "escrow balance lookup failed, defaulting to zero",
			"cluster", s.cluster,
			"address", owner.String(),
			"error", err,
		)
		escrowAccount, derr := EscrowAccount(s.cluster, owner)
		if derr != nil {
			escrowAccount = solana.PublicKey{}
		}
		escrow = wallet.AccountBalance{Account: escrowAccount}
	}

	native, err := s.fetchNativeBalance(ctx, owner)
	if err != nil {
		return wallet.BalanceSnapshot{}, err
	}

	return wallet.BalanceSnapshot{
		ATABalances: atas,
		Native:      native,
		Escrow:      escrow,
	}, nil
}

// fetchTokenAccounts queries all token accounts owned by the wallet in one
// RPC call and decodes those belonging to supported mints.
func (s *Synchronizer) fetchTokenAccounts(ctx context.Context, owner solana.PublicKey) (map[wallet.Token]wallet.TokenAccountSnapshot, error) {
	programID := solana.TokenProgramID
	conf := &rpc.GetTokenAccountsConfig{ProgramId: &programID}
	opts := &rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64}

	start := time.Now()
	result, err := s.chain.GetTokenAccountsByOwner(ctx, owner, conf, opts)
	s.recordRPC("GetTokenAccountsByOwner", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to get token accounts: %w", err)
	}

	byToken := make(map[wallet.Token]wallet.TokenAccountSnapshot)
	for _, ta := range result.Value {
		decoded, err := DecodeTokenAccount(ta.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("token account %s: %w", ta.Pubkey, err)
		}
		token, ok := TokenForMint(s.cluster, decoded.Mint)
		if !ok {
			// Not one of the supported mints; the wallet may hold
			// arbitrary SPL tokens we do not track.
			continue
		}
		pubkey := ta.Pubkey
		byToken[token] = wallet.TokenAccountSnapshot{
			TokenAccount: &pubkey,
			Token:        token,
			Balance:      decoded.Amount,
		}
	}

	s.logger.DebugContext(ctx, "decoded token accounts",
		"cluster", s.cluster,
		"address", owner.String(),
		"total", len(result.Value),
		"supported", len(byToken),
	)
	return byToken, nil
}

func (s *Synchronizer) fetchEscrowBalance(ctx context.Context, owner solana.PublicKey) (wallet.AccountBalance, error) {
	escrowAccount, err := EscrowAccount(s.cluster, owner)
	if err != nil {
		return wallet.AccountBalance{}, err
	}

	start := time.Now()
	result, err := s.chain.GetTokenAccountBalance(ctx, escrowAccount, rpc.CommitmentConfirmed)
	s.recordRPC("GetTokenAccountBalance", err, time.Since(start))
	if err != nil {
		return wallet.AccountBalance{}, err
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return wallet.AccountBalance{}, fmt.Errorf("%w: escrow amount %q", ErrDecode, result.Value.Amount)
	}

	return wallet.AccountBalance{Account: escrowAccount, Balance: amount}, nil
}

func (s *Synchronizer) fetchNativeBalance(ctx context.Context, owner solana.PublicKey) (wallet.AccountBalance, error) {
	start := time.Now()
	result, err := s.chain.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	s.recordRPC("GetBalance", err, time.Since(start))
	if err != nil {
		return wallet.AccountBalance{}, fmt.Errorf("failed to get native balance: %w", err)
	}
	return wallet.AccountBalance{Account: owner, Balance: result.Value}, nil
}

func (s *Synchronizer) recordRPC(method string, err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordRPCCall(method, status, s.endpoint, d.Seconds())
}
