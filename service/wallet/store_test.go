package wallet

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot(hntBalance uint64) BalanceSnapshot {
	hntAccount := solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	return BalanceSnapshot{
		ATABalances: []TokenAccountSnapshot{
			{TokenAccount: &hntAccount, Token: TokenHNT, Balance: hntBalance},
			{Token: TokenMOBILE, Balance: 0},
			{Token: TokenIOT, Balance: 0},
			{Token: TokenDC, Balance: 0},
		},
		Native: AccountBalance{
			Account: solana.MustPublicKeyFromBase58("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde"),
			Balance: 5_000_000_000,
		},
	}
}

func TestReplaceAndReadSnapshot(t *testing.T) {
	store := NewStore(testLogger())

	_, ok := store.ReadSnapshot(ClusterMainnet, "wallet1")
	assert.False(t, ok, "empty store should have no snapshot")

	snap := testSnapshot(100)
	store.ReplaceSnapshot(ClusterMainnet, "wallet1", snap)

	got, ok := store.ReadSnapshot(ClusterMainnet, "wallet1")
	require.True(t, ok)
	assert.Equal(t, uint64(5_000_000_000), got.Native.Balance)

	hnt, ok := got.TokenBalance(TokenHNT)
	require.True(t, ok)
	assert.Equal(t, uint64(100), hnt.Balance)
}

func TestClusterIsolation(t *testing.T) {
	store := NewStore(testLogger())

	store.ReplaceSnapshot(ClusterMainnet, "wallet1", testSnapshot(100))
	store.ReplaceSnapshot(ClusterDevnet, "wallet1", testSnapshot(200))

	mainnet, ok := store.ReadSnapshot(ClusterMainnet, "wallet1")
	require.True(t, ok)
	devnet, ok := store.ReadSnapshot(ClusterDevnet, "wallet1")
	require.True(t, ok)

	mainnetHNT, _ := mainnet.TokenBalance(TokenHNT)
	devnetHNT, _ := devnet.TokenBalance(TokenHNT)
	assert.Equal(t, uint64(100), mainnetHNT.Balance)
	assert.Equal(t, uint64(200), devnetHNT.Balance)

	_, ok = store.ReadSnapshot(ClusterTestnet, "wallet1")
	assert.False(t, ok, "testnet was never synced")
}

func TestReadReturnsCopy(t *testing.T) {
	store := NewStore(testLogger())
	store.ReplaceSnapshot(ClusterMainnet, "wallet1", testSnapshot(100))

	got, ok := store.ReadSnapshot(ClusterMainnet, "wallet1")
	require.True(t, ok)
	got.ATABalances[0].Balance = 999

	again, ok := store.ReadSnapshot(ClusterMainnet, "wallet1")
	require.True(t, ok)
	hnt, _ := again.TokenBalance(TokenHNT)
	assert.Equal(t, uint64(100), hnt.Balance, "mutating a read copy must not affect the store")
}

func TestPatchTokenBalance(t *testing.T) {
	store := NewStore(testLogger())
	hntAccount := solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	otherAccount := solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")

	t.Run("no snapshot yet is a no-op", func(t *testing.T) {
		applied := store.PatchTokenBalance(ClusterMainnet, "unknown", hntAccount, TokenHNT, 500)
		assert.False(t, applied)
		_, ok := store.ReadSnapshot(ClusterMainnet, "unknown")
		assert.False(t, ok, "patch must not create a snapshot")
	})

	store.ReplaceSnapshot(ClusterMainnet, "wallet1", testSnapshot(100))

	t.Run("matching entry is overwritten", func(t *testing.T) {
		applied := store.PatchTokenBalance(ClusterMainnet, "wallet1", hntAccount, TokenHNT, 500)
		assert.True(t, applied)

		snap, _ := store.ReadSnapshot(ClusterMainnet, "wallet1")
		hnt, _ := snap.TokenBalance(TokenHNT)
		assert.Equal(t, uint64(500), hnt.Balance)
	})

	t.Run("unknown token account is a no-op", func(t *testing.T) {
		applied := store.PatchTokenBalance(ClusterMainnet, "wallet1", otherAccount, TokenHNT, 999)
		assert.False(t, applied)

		snap, _ := store.ReadSnapshot(ClusterMainnet, "wallet1")
		hnt, _ := snap.TokenBalance(TokenHNT)
		assert.Equal(t, uint64(500), hnt.Balance, "balance must be unchanged")
	})

	t.Run("unfunded mint with nil token account is a no-op", func(t *testing.T) {
		applied := store.PatchTokenBalance(ClusterMainnet, "wallet1", otherAccount, TokenMOBILE, 999)
		assert.False(t, applied)
	})

	t.Run("patch must not create entries", func(t *testing.T) {
		snap, _ := store.ReadSnapshot(ClusterMainnet, "wallet1")
		assert.Len(t, snap.ATABalances, 4)
	})
}

func TestGenerationDiscardsSupersededResults(t *testing.T) {
	store := NewStore(testLogger())

	gen1 := store.BeginSync(ClusterMainnet, "wallet1")
	gen2 := store.BeginSync(ClusterMainnet, "wallet1")
	require.Greater(t, gen2, gen1)

	// The older fetch resolves after the newer one began: discarded.
	ok := store.ReplaceSnapshotIfCurrent(ClusterMainnet, "wallet1", testSnapshot(111), gen1)
	assert.False(t, ok)
	_, has := store.ReadSnapshot(ClusterMainnet, "wallet1")
	assert.False(t, has)

	// The current fetch's result lands.
	ok = store.ReplaceSnapshotIfCurrent(ClusterMainnet, "wallet1", testSnapshot(222), gen2)
	assert.True(t, ok)
	snap, has := store.ReadSnapshot(ClusterMainnet, "wallet1")
	require.True(t, has)
	hnt, _ := snap.TokenBalance(TokenHNT)
	assert.Equal(t, uint64(222), hnt.Balance)
}

func TestOnChangeFiresForAppliedMutationsOnly(t *testing.T) {
	store := NewStore(testLogger())
	hntAccount := solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")

	var mu sync.Mutex
	var events []Key
	store.OnChange(func(key Key, snap BalanceSnapshot) {
		mu.Lock()
		events = append(events, key)
		mu.Unlock()
	})

	store.PatchTokenBalance(ClusterMainnet, "wallet1", hntAccount, TokenHNT, 1) // dropped
	store.ReplaceSnapshot(ClusterMainnet, "wallet1", testSnapshot(100))
	store.PatchTokenBalance(ClusterMainnet, "wallet1", hntAccount, TokenHNT, 2) // applied

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, events, 2, "only applied mutations notify")
}

// TestNoTornReads hammers the store with concurrent replaces while readers
// verify every observed snapshot is internally consistent (all entries from
// the same write).
func TestNoTornReads(t *testing.T) {
	store := NewStore(testLogger())

	consistent := func(n uint64) BalanceSnapshot {
		snap := testSnapshot(n)
		for i := range snap.ATABalances {
			snap.ATABalances[i].Balance = n
		}
		snap.Native.Balance = n
		return snap
	}

	store.ReplaceSnapshot(ClusterMainnet, "wallet1", consistent(0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 1000; i++ {
			store.ReplaceSnapshot(ClusterMainnet, "wallet1", consistent(i))
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		snap, ok := store.ReadSnapshot(ClusterMainnet, "wallet1")
		require.True(t, ok)
		want := snap.Native.Balance
		for _, ata := range snap.ATABalances {
			require.Equal(t, want, ata.Balance, "torn read: snapshot mixes two writes")
		}
	}
}
