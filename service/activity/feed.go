package activity

import (
	"context"
	"fmt"
	"log/slog"
)

// Archive persists activity records out of band. The in-memory cache stays
// authoritative; the archive is write-through when configured.
type Archive interface {
	ArchiveActivityRecords(ctx context.Context, address string, records []Record) error
}

// Feed ties the paged API to the merge cache, preserving the cursor
// semantics the merge depends on: Refresh sends no cursor (head check),
// LoadMore sends the cached one (union).
type Feed struct {
	cache   *Cache
	source  Source
	archive Archive
	logger  *slog.Logger
}

// NewFeed creates a feed. archive may be nil.
func NewFeed(cache *Cache, source Source, archive Archive, logger *slog.Logger) *Feed {
	return &Feed{
		cache:   cache,
		source:  source,
		archive: archive,
		logger:  logger,
	}
}

// Refresh fetches the head page and merges it, seeding the address's cache
// on first use. A failed fetch leaves the cache untouched.
func (f *Feed) Refresh(ctx context.Context, address string) error {
	page, err := f.source.FetchPage(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch activity head for %s: %w", address, err)
	}

	outcome := f.cache.Merge(address, nil, page.Cursor, page.Records)
	f.logger.DebugContext(ctx, "merged activity head page",
		"address", address,
		"records", len(page.Records),
		"outcome", outcome,
	)

	f.archiveRecords(ctx, address, page.Records)
	return nil
}

// LoadMore fetches the next page using the cached cursor. It reports false
// with no error when the feed is exhausted or the address was never
// refreshed.
func (f *Feed) LoadMore(ctx context.Context, address string) (bool, error) {
	cursor, _, ok := f.cache.Read(address)
	if !ok || cursor == nil {
		return false, nil
	}

	page, err := f.source.FetchPage(ctx, address, cursor)
	if err != nil {
		return false, fmt.Errorf("failed to fetch activity page for %s: %w", address, err)
	}

	f.cache.Merge(address, cursor, page.Cursor, page.Records)
	f.logger.DebugContext(ctx, "merged activity page",
		"address", address,
		"records", len(page.Records),
	)

	f.archiveRecords(ctx, address, page.Records)
	return len(page.Records) > 0, nil
}

// Read returns the cached cursor and records for an address.
func (f *Feed) Read(address string) (*string, []Record, bool) {
	return f.cache.Read(address)
}

func (f *Feed) archiveRecords(ctx context.Context, address string, records []Record) {
	if f.archive == nil || len(records) == 0 {
		return
	}
	if err := f.archive.ArchiveActivityRecords(ctx, address, records); err != nil {
		f.logger.WarnContext(ctx, "failed to archive activity records",
			"address", address,
			"error", err,
		)
	}
}
