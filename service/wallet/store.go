package wallet

import (
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Key identifies one wallet on one cluster. Address is the base58 form of
// the wallet's public key.
type Key struct {
	Cluster Cluster
	Address string
}

// ChangeFunc is invoked after a snapshot for a key is replaced or patched.
// The snapshot passed is a private copy; the callback runs outside the store
// lock and must not be assumed to run on any particular goroutine.
type ChangeFunc func(key Key, snap BalanceSnapshot)

type entry struct {
	snap BalanceSnapshot
	has  bool

	// gen advances every time a new fetch for this key begins. Results
	// carrying an older generation are discarded instead of clobbering
	// fresher state.
	gen uint64
}

// Store is the process-wide balance table, keyed by (cluster, wallet
// address). It is the only shared mutable balance state in the engine.
type Store struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	onChange ChangeFunc
	logger   *slog.Logger
}

// NewStore creates an empty balance store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		entries: make(map[Key]*entry),
		logger:  logger,
	}
}

// OnChange registers a single callback fired after every applied mutation.
// Must be called before the store is shared across goroutines.
func (s *Store) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

func (s *Store) get(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// ReplaceSnapshot atomically replaces the entire snapshot for the key.
// Readers observe either the old or the new snapshot, never a mix.
func (s *Store) ReplaceSnapshot(cluster Cluster, address string, snap BalanceSnapshot) {
	key := Key{Cluster: cluster, Address: address}

	s.mu.Lock()
	e := s.get(key)
	e.snap = snap.clone()
	e.has = true
	snapCopy := e.snap.clone()
	s.mu.Unlock()

	s.notify(key, snapCopy)
}

// ReplaceSnapshotIfCurrent replaces the snapshot only if gen still matches
// the key's current generation. A false return means the fetch that produced
// this snapshot was superseded and its result has been discarded.
func (s *Store) ReplaceSnapshotIfCurrent(cluster Cluster, address string, snap BalanceSnapshot, gen uint64) bool {
	key := Key{Cluster: cluster, Address: address}

	s.mu.Lock()
	e := s.get(key)
	if e.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded snapshot",
			"cluster", cluster,
			"address", address,
			"result_generation", gen,
			"current_generation", e.gen,
		)
		return false
	}
	e.snap = snap.clone()
	e.has = true
	snapCopy := e.snap.clone()
	s.mu.Unlock()

	s.notify(key, snapCopy)
	return true
}

// PatchTokenBalance overwrites the balance of the snapshot entry matching
// (tokenAccount, token). It returns false without mutating anything when no
// snapshot exists for the key yet or no entry matches; a live update must
// never fabricate an entry the full sync has not established.
func (s *Store) PatchTokenBalance(cluster Cluster, address string, tokenAccount solana.PublicKey, token Token, balance uint64) bool {
	key := Key{Cluster: cluster, Address: address}

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || !e.has {
		s.mu.Unlock()
		return false
	}
	applied := false
	for i := range e.snap.ATABalances {
		ata := &e.snap.ATABalances[i]
		if ata.Token == token && ata.TokenAccount != nil && ata.TokenAccount.Equals(tokenAccount) {
			ata.Balance = balance
			applied = true
			break
		}
	}
	if !applied {
		s.mu.Unlock()
		return false
	}
	snapCopy := e.snap.clone()
	s.mu.Unlock()

	s.notify(key, snapCopy)
	return true
}

// ReadSnapshot returns a copy of the snapshot for the key, if one exists.
func (s *Store) ReadSnapshot(cluster Cluster, address string) (BalanceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[Key{Cluster: cluster, Address: address}]
	if !ok || !e.has {
		return BalanceSnapshot{}, false
	}
	return e.snap.clone(), true
}

// BeginSync advances and returns the generation for the key. Every fetch
// whose result may land asynchronously calls this at start and hands the
// returned generation back via ReplaceSnapshotIfCurrent.
func (s *Store) BeginSync(cluster Cluster, address string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(Key{Cluster: cluster, Address: address})
	e.gen++
	return e.gen
}

// Generation returns the current generation for the key without advancing it.
func (s *Store) Generation(cluster Cluster, address string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[Key{Cluster: cluster, Address: address}]; ok {
		return e.gen
	}
	return 0
}

func (s *Store) notify(key Key, snap BalanceSnapshot) {
	if s.onChange != nil {
		s.onChange(key, snap)
	}
}
