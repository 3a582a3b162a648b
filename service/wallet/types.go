package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Cluster identifies a Solana network environment. All cached balance state
// is partitioned by cluster first; keys never collide across clusters.
type Cluster string

const (
	ClusterMainnet Cluster = "mainnet"
	ClusterDevnet  Cluster = "devnet"
	ClusterTestnet Cluster = "testnet"
)

// Clusters lists every cluster the engine knows about.
var Clusters = []Cluster{ClusterMainnet, ClusterDevnet, ClusterTestnet}

// Valid reports whether c is one of the known clusters.
func (c Cluster) Valid() bool {
	switch c {
	case ClusterMainnet, ClusterDevnet, ClusterTestnet:
		return true
	}
	return false
}

// ParseCluster converts a string into a Cluster, rejecting unknown values.
func ParseCluster(s string) (Cluster, error) {
	c := Cluster(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown cluster %q", s)
	}
	return c, nil
}

// Token is one of the fixed set of tokens the wallet understands natively.
// SOL is a pseudo-mint for the native lamport balance; DC additionally has a
// derived escrow account tracked separately on the snapshot.
type Token string

const (
	TokenHNT    Token = "HNT"
	TokenMOBILE Token = "MOBILE"
	TokenIOT    Token = "IOT"
	TokenDC     Token = "DC"
	TokenSOL    Token = "SOL"
)

// SupportedTokens is the set of SPL tokens a full sync resolves. SOL is
// excluded here because the native balance is fetched per-account, not
// through the token program.
var SupportedTokens = []Token{TokenHNT, TokenMOBILE, TokenIOT, TokenDC}

// Decimals returns the number of base-unit decimals for the token.
func (t Token) Decimals() int32 {
	switch t {
	case TokenHNT:
		return 8
	case TokenMOBILE, TokenIOT:
		return 6
	case TokenDC:
		return 0
	case TokenSOL:
		return 9
	}
	return 0
}

// TokenAccountSnapshot is the cached balance of a single token account.
// TokenAccount is nil when the mint is unfunded (no ATA exists yet); Balance
// is always a raw integer in the token's smallest unit.
type TokenAccountSnapshot struct {
	TokenAccount *solana.PublicKey
	Token        Token
	Balance      uint64
}

// AccountBalance is the cached balance of a single non-token account.
type AccountBalance struct {
	Account solana.PublicKey
	Balance uint64
}

// BalanceSnapshot is the full cached balance state for one wallet on one
// cluster. It is replaced wholesale by the synchronizer and patched
// entry-by-entry by live-update watchers.
type BalanceSnapshot struct {
	ATABalances []TokenAccountSnapshot
	Native      AccountBalance
	Escrow      AccountBalance
}

// TokenBalance returns the snapshot entry for the given token.
func (s *BalanceSnapshot) TokenBalance(t Token) (TokenAccountSnapshot, bool) {
	for _, ata := range s.ATABalances {
		if ata.Token == t {
			return ata, true
		}
	}
	return TokenAccountSnapshot{}, false
}

// clone deep-copies the snapshot so readers and writers never share the
// backing array or token-account pointers.
func (s *BalanceSnapshot) clone() BalanceSnapshot {
	out := BalanceSnapshot{
		ATABalances: make([]TokenAccountSnapshot, len(s.ATABalances)),
		Native:      s.Native,
		Escrow:      s.Escrow,
	}
	for i, ata := range s.ATABalances {
		out.ATABalances[i] = ata
		if ata.TokenAccount != nil {
			pk := *ata.TokenAccount
			out.ATABalances[i].TokenAccount = &pk
		}
	}
	return out
}
