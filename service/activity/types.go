package activity

import "time"

// Payment is one transfer leg inside an activity record.
type Payment struct {
	Payee  string `json:"payee"`
	Amount uint64 `json:"amount"`
	Mint   string `json:"mint,omitempty"`
}

// Reward is one reward disbursement inside an activity record.
type Reward struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Type    string `json:"type,omitempty"`
}

// Record is a single transaction activity entry. Records are immutable once
// fetched; the upstream API never changes a past record's hash, which is
// what makes hash-keyed deduplication safe.
type Record struct {
	Hash      string    `json:"hash"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payer     string    `json:"payer,omitempty"`
	Payments  []Payment `json:"payments,omitempty"`
	Rewards   []Reward  `json:"rewards,omitempty"`
}

// Page is one response from the paged activity API, newest-first. A nil
// cursor means there are no further pages.
type Page struct {
	Cursor  *string  `json:"cursor"`
	Records []Record `json:"records"`
}
