package nats

import (
	"time"

	"github.com/hntlabs/walletsync/service/wallet"
)

// TokenBalance is one token's balance inside a published event.
type TokenBalance struct {
	Token        string  `json:"token"`
	TokenAccount *string `json:"token_account,omitempty"`
	Balance      uint64  `json:"balance"`
}

// BalanceEvent is published to "balances.{cluster}.{wallet_address}" on
// every snapshot replacement or applied patch.
type BalanceEvent struct {
	Cluster       string         `json:"cluster"`
	WalletAddress string         `json:"wallet_address"`
	Tokens        []TokenBalance `json:"tokens"`
	NativeBalance uint64         `json:"native_balance"`
	EscrowBalance uint64         `json:"escrow_balance"`
	PublishedAt   time.Time      `json:"published_at"`
}

// FromSnapshot converts a cached balance snapshot into a publishable event.
func FromSnapshot(key wallet.Key, snap wallet.BalanceSnapshot) *BalanceEvent {
	event := &BalanceEvent{
		Cluster:       string(key.Cluster),
		WalletAddress: key.Address,
		NativeBalance: snap.Native.Balance,
		EscrowBalance: snap.Escrow.Balance,
		PublishedAt:   time.Now().UTC(),
	}

	for _, ata := range snap.ATABalances {
		tb := TokenBalance{
			Token:   string(ata.Token),
			Balance: ata.Balance,
		}
		if ata.TokenAccount != nil {
			acct := ata.TokenAccount.String()
			tb.TokenAccount = &acct
		}
		event.Tokens = append(event.Tokens, tb)
	}

	return event
}
