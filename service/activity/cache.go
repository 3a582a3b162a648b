package activity

import (
	"sync"

	"github.com/hntlabs/walletsync/service/metrics"
)

// Merge outcomes, recorded per merge for observability.
const (
	MergeSeed    = "seed"
	MergeUnion   = "union"
	MergeReplace = "replace"
)

type entry struct {
	cursor *string
	order  []string
	byHash map[string]Record
}

// Cache holds per-address activity pages merged into a deduplicated,
// insertion-ordered series. Entries are seeded lazily on first merge and
// live for the process lifetime.
//
// The map is purely a dedup index; order preserves the first-seen sequence,
// which matches the API's newest-first ordering as long as merges are
// invoked in response order.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	metrics *metrics.Metrics
}

// NewCache creates an empty cache. If m is nil, no metrics will be recorded.
func NewCache(m *metrics.Metrics) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		metrics: m,
	}
}

// Merge folds one API page into the address's cached series. argsCursor is
// the cursor the caller sent with the request: nil marks a head refresh,
// non-nil a paginated load-more.
//
// On a head refresh against existing data, a first-record hash that differs
// from the cached head means something new landed upstream; the feed is
// newest-first, so everything between the old and new head is in this same
// response and the cached series is replaced wholesale. Every other case is
// a union keyed by hash: existing records are untouched, new ones append in
// arrival order, and the cursor advances to the incoming one. Merging the
// same page twice is a no-op.
//
// The head check compares only the first record's hash. A reorg that swaps
// deeper records without changing the head goes undetected until the next
// head change; the upstream feed does not reorder history in practice.
func (c *Cache) Merge(addr string, argsCursor *string, incomingCursor *string, records []Record) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		e = &entry{byHash: make(map[string]Record)}
		c.entries[addr] = e
	}

	outcome := MergeUnion
	if !ok {
		outcome = MergeSeed
	}

	headRefresh := argsCursor == nil
	if headRefresh && len(e.order) > 0 && len(records) > 0 && records[0].Hash != e.order[0] {
		e.order = nil
		e.byHash = make(map[string]Record, len(records))
		outcome = MergeReplace
	}

	for _, r := range records {
		if _, seen := e.byHash[r.Hash]; seen {
			continue
		}
		e.byHash[r.Hash] = r
		e.order = append(e.order, r.Hash)
	}
	e.cursor = incomingCursor

	if c.metrics != nil {
		c.metrics.RecordActivityMerge(outcome)
		c.metrics.RecordActivityCacheSize(addr, len(e.order))
	}
	return outcome
}

// Read returns the address's cursor and records in insertion order. The
// returned slice is a copy.
func (c *Cache) Read(addr string) (*string, []Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return nil, nil, false
	}

	records := make([]Record, 0, len(e.order))
	for _, hash := range e.order {
		records = append(records, e.byHash[hash])
	}

	var cursor *string
	if e.cursor != nil {
		cur := *e.cursor
		cursor = &cur
	}
	return cursor, records, true
}

// Size returns the number of cached records for an address.
func (c *Cache) Size(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		return 0
	}
	return len(e.order)
}
