package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hntlabs/walletsync/service/wallet"
)

// mockChainClient implements ChainClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockChainClient struct {
	tokenAccounts    []*rpc.TokenAccount
	tokenAccountsErr error

	balance    uint64
	balanceErr error

	escrowAmount string
	escrowErr    error

	accountInfo    *rpc.GetAccountInfoResult
	accountInfoErr error

	// onGetBalance fires before the native balance call, letting tests
	// interleave other store operations mid-sync.
	onGetBalance func()
}

func (m *mockChainClient) GetTokenAccountsByOwner(
	ctx context.Context,
	owner solana.PublicKey,
	conf *rpc.GetTokenAccountsConfig,
	opts *rpc.GetTokenAccountsOpts,
) (*rpc.GetTokenAccountsResult, error) {
	if m.tokenAccountsErr != nil {
		return nil, m.tokenAccountsErr
	}
	return &rpc.GetTokenAccountsResult{Value: m.tokenAccounts}, nil
}

func (m *mockChainClient) GetBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetBalanceResult, error) {
	if m.onGetBalance != nil {
		m.onGetBalance()
	}
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockChainClient) GetTokenAccountBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetTokenAccountBalanceResult, error) {
	if m.escrowErr != nil {
		return nil, m.escrowErr
	}
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: m.escrowAmount},
	}, nil
}

func (m *mockChainClient) GetAccountInfo(
	ctx context.Context,
	account solana.PublicKey,
) (*rpc.GetAccountInfoResult, error) {
	if m.accountInfoErr != nil {
		return nil, m.accountInfoErr
	}
	return m.accountInfo, nil
}

var testOwner = solana.MustPublicKeyFromBase58("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde")

func newTestSynchronizer(mock *mockChainClient) (*Synchronizer, *wallet.Store) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := wallet.NewStore(logger)
	return NewSynchronizer(wallet.ClusterMainnet, mock, store, "test", nil, logger), store
}

func splAccount(pubkey solana.PublicKey, mint solana.PublicKey, amount uint64) *rpc.TokenAccount {
	return &rpc.TokenAccount{
		Pubkey: pubkey,
		Account: rpc.Account{
			Data: rpc.DataBytesOrJSONFromBytes(tokenAccountBytes(mint, testOwner, amount)),
		},
	}
}

func TestSync_EmptyWallet(t *testing.T) {
	// Zero token accounts, escrow lookup fails (no escrow account exists),
	// native balance present.
	mock := &mockChainClient{
		tokenAccounts: nil,
		escrowErr:     errors.New("could not find account"),
		balance:       5_000_000_000,
	}
	sync, store := newTestSynchronizer(mock)

	err := sync.Sync(context.Background(), testOwner)
	require.NoError(t, err)

	snap, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	require.True(t, ok)

	require.Len(t, snap.ATABalances, len(wallet.SupportedTokens))
	for _, ata := range snap.ATABalances {
		assert.Equal(t, uint64(0), ata.Balance, "token %s", ata.Token)
		assert.Nil(t, ata.TokenAccount, "unfunded mint has no token account")
	}
	assert.Equal(t, uint64(0), snap.Escrow.Balance)
	assert.Equal(t, uint64(5_000_000_000), snap.Native.Balance)
	assert.True(t, snap.Native.Account.Equals(testOwner))
}

func TestSync_FundedWallet(t *testing.T) {
	hntAccount := solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	iotAccount := solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	unknownMint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	unknownAccount := solana.MustPublicKeyFromBase58("3LKy8xYJYzjZpqCeJWCyVKHaJQ1bMJKSP9rFVcAVbLuJ")

	mints := Mints(wallet.ClusterMainnet)
	mock := &mockChainClient{
		tokenAccounts: []*rpc.TokenAccount{
			splAccount(hntAccount, mints[wallet.TokenHNT], 250_000_000),
			splAccount(iotAccount, mints[wallet.TokenIOT], 42),
			splAccount(unknownAccount, unknownMint, 7), // untracked mint, skipped
		},
		escrowAmount: "9000",
		balance:      1_000_000,
	}
	sync, store := newTestSynchronizer(mock)

	require.NoError(t, sync.Sync(context.Background(), testOwner))

	snap, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	require.True(t, ok)

	hnt, ok := snap.TokenBalance(wallet.TokenHNT)
	require.True(t, ok)
	assert.Equal(t, uint64(250_000_000), hnt.Balance)
	require.NotNil(t, hnt.TokenAccount)
	assert.True(t, hnt.TokenAccount.Equals(hntAccount))

	iot, _ := snap.TokenBalance(wallet.TokenIOT)
	assert.Equal(t, uint64(42), iot.Balance)

	mobile, _ := snap.TokenBalance(wallet.TokenMOBILE)
	assert.Equal(t, uint64(0), mobile.Balance)
	assert.Nil(t, mobile.TokenAccount)

	assert.Equal(t, uint64(9000), snap.Escrow.Balance)
}

func TestSync_TokenAccountsFailurePreservesCache(t *testing.T) {
	mock := &mockChainClient{escrowAmount: "0", balance: 100}
	sync, store := newTestSynchronizer(mock)

	require.NoError(t, sync.Sync(context.Background(), testOwner))
	before, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	require.True(t, ok)

	mock.tokenAccountsErr = errors.New("rpc unavailable")
	err := sync.Sync(context.Background(), testOwner)
	require.Error(t, err)
	require.Error(t, sync.LastError(testOwner.String()))

	after, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	require.True(t, ok, "failed sync must not clear the cached snapshot")
	assert.Equal(t, before, after)
}

func TestSync_NativeFailurePropagates(t *testing.T) {
	mock := &mockChainClient{
		escrowAmount: "0",
		balanceErr:   errors.New("rpc timeout"),
	}
	sync, store := newTestSynchronizer(mock)

	err := sync.Sync(context.Background(), testOwner)
	require.Error(t, err)

	_, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	assert.False(t, ok, "a failed first sync writes nothing")
	assert.False(t, sync.Loading(testOwner.String()), "loading flips back to false on failure")
}

func TestSync_EscrowFailureTolerated(t *testing.T) {
	mock := &mockChainClient{
		escrowErr: errors.New("rpc unavailable"),
		balance:   77,
	}
	sync, store := newTestSynchronizer(mock)

	require.NoError(t, sync.Sync(context.Background(), testOwner))

	snap, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	require.True(t, ok)
	assert.Equal(t, uint64(0), snap.Escrow.Balance)

	escrowAccount, err := EscrowAccount(wallet.ClusterMainnet, testOwner)
	require.NoError(t, err)
	assert.True(t, snap.Escrow.Account.Equals(escrowAccount))
}

func TestSync_SupersededResultDiscarded(t *testing.T) {
	mock := &mockChainClient{escrowAmount: "0", balance: 100}
	sync, store := newTestSynchronizer(mock)

	// A newer sync begins while this one is still fetching; the store's
	// generation advances and the in-flight result must be discarded.
	mock.onGetBalance = func() {
		store.BeginSync(wallet.ClusterMainnet, testOwner.String())
		mock.onGetBalance = nil
	}

	require.NoError(t, sync.Sync(context.Background(), testOwner))

	_, ok := store.ReadSnapshot(wallet.ClusterMainnet, testOwner.String())
	assert.False(t, ok, "superseded sync result must not be written")
}
