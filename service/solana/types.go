package solana

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/hntlabs/walletsync/service/wallet"
)

// ErrDecode marks malformed on-chain account bytes. Decode failures are
// fatal for the fetch that hit them; they are never silently defaulted
// except on the escrow path, which tolerates any failure as a zero balance.
var ErrDecode = errors.New("malformed account data")

// ChainClient is the interface for the Solana RPC operations the engine
// needs. It lets tests mock the RPC layer without hitting real nodes.
type ChainClient interface {
	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)
}

// Well-known mint addresses for the supported tokens. Test clusters reuse
// the mainnet table; deployments against forked test ledgers override the
// mints through the synchronizer option.
var (
	hntMint    = solana.MustPublicKeyFromBase58("hntyVP6YFm1Hg25TN9WGLqM12b2TkPfPhqcnq7nV9sE")
	mobileMint = solana.MustPublicKeyFromBase58("mb1eu7TzEc71KxDpsmsKoucSSuuoGLv1drys1oP2jh6")
	iotMint    = solana.MustPublicKeyFromBase58("iotEVVZLEywoTn1QdwNPddxPWszn3zFhEot3MfL9fns")
	dcMint     = solana.MustPublicKeyFromBase58("dcuc8Amr83Wz27ZkQ2K9NS6r8zRpf1J6cvArEBDZDmm")

	dataCreditsProgram = solana.MustPublicKeyFromBase58("credMBJhYFzfn7NxBMdU4aUqFggAjgztaCcv2Fo6fPT")
)

// Mints returns the mint address table for the cluster.
func Mints(cluster wallet.Cluster) map[wallet.Token]solana.PublicKey {
	// One table for every cluster; the supported mints are deployed with
	// vanity addresses that match across environments.
	return map[wallet.Token]solana.PublicKey{
		wallet.TokenHNT:    hntMint,
		wallet.TokenMOBILE: mobileMint,
		wallet.TokenIOT:    iotMint,
		wallet.TokenDC:     dcMint,
	}
}

// TokenForMint resolves a mint address back to a supported token.
func TokenForMint(cluster wallet.Cluster, mint solana.PublicKey) (wallet.Token, bool) {
	for token, m := range Mints(cluster) {
		if m.Equals(mint) {
			return token, true
		}
	}
	return "", false
}

// EscrowAccount derives the data-credit escrow account for a wallet. The
// derivation is deterministic, so the escrow balance can be looked up
// without the wallet ever having created the account.
func EscrowAccount(cluster wallet.Cluster, owner solana.PublicKey) (solana.PublicKey, error) {
	mint := Mints(cluster)[wallet.TokenDC]
	seeds := [][]byte{
		[]byte("escrow_dc_account"),
		mint.Bytes(),
		owner.Bytes(),
	}
	pda, _, err := solana.FindProgramAddress(seeds, dataCreditsProgram)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive escrow account: %w", err)
	}
	return pda, nil
}
