package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hntlabs/walletsync/service/activity"
	"github.com/hntlabs/walletsync/service/pricing"
)

// schema is applied idempotently at startup. The archive is an append-only
// mirror of what the in-memory caches already hold; nothing reads it on the
// hot path.
const schema = `
CREATE TABLE IF NOT EXISTS balance_history (
	cluster        TEXT        NOT NULL,
	wallet_address TEXT        NOT NULL,
	currency       TEXT        NOT NULL,
	ts             TIMESTAMPTZ NOT NULL,
	balance        NUMERIC     NOT NULL,
	PRIMARY KEY (cluster, wallet_address, currency, ts)
);

CREATE TABLE IF NOT EXISTS activity_records (
	wallet_address TEXT        NOT NULL,
	hash           TEXT        NOT NULL,
	type           TEXT        NOT NULL,
	ts             TIMESTAMPTZ NOT NULL,
	payer          TEXT        NOT NULL DEFAULT '',
	payments       JSONB       NOT NULL DEFAULT '[]',
	rewards        JSONB       NOT NULL DEFAULT '[]',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (wallet_address, hash)
);

CREATE INDEX IF NOT EXISTS activity_records_wallet_ts_idx
	ON activity_records (wallet_address, ts DESC);
`

// Store is the optional Postgres archive for balance-history series and
// activity records. It implements pricing.HistoryArchive and
// activity.Archive.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the archive schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply archive schema: %w", err)
	}
	return nil
}

// InsertHistoryPoints upserts one series fetch. Re-fetching the same window
// is common, so conflicting samples overwrite rather than error.
func (s *Store) InsertHistoryPoints(ctx context.Context, key pricing.HistoryKey, points []pricing.HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO balance_history (cluster, wallet_address, currency, ts, balance)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (cluster, wallet_address, currency, ts)
			DO UPDATE SET balance = EXCLUDED.balance`,
			string(key.Cluster), key.Address, key.Currency, p.Timestamp, p.Balance.String(),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert history point: %w", err)
		}
	}
	return nil
}

// ListHistoryPoints returns the archived series for a key within [start, end],
// oldest first.
func (s *Store) ListHistoryPoints(ctx context.Context, key pricing.HistoryKey, start, end time.Time) ([]pricing.HistoryPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, balance
		FROM balance_history
		WHERE cluster = $1 AND wallet_address = $2 AND currency = $3
			AND ts >= $4 AND ts <= $5
		ORDER BY ts ASC`,
		string(key.Cluster), key.Address, key.Currency, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history points: %w", err)
	}
	defer rows.Close()

	var points []pricing.HistoryPoint
	for rows.Next() {
		var (
			ts      pgtype.Timestamptz
			balance pgtype.Numeric
		)
		if err := rows.Scan(&ts, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		bal, err := numericToDecimal(balance)
		if err != nil {
			return nil, err
		}
		points = append(points, pricing.HistoryPoint{Timestamp: ts.Time, Balance: bal})
	}
	return points, rows.Err()
}

// ArchiveActivityRecords appends a merged page. Records are immutable
// upstream, so duplicate hashes are simply skipped.
func (s *Store) ArchiveActivityRecords(ctx context.Context, address string, records []activity.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		payments, err := json.Marshal(r.Payments)
		if err != nil {
			return fmt.Errorf("failed to marshal payments for %s: %w", r.Hash, err)
		}
		rewards, err := json.Marshal(r.Rewards)
		if err != nil {
			return fmt.Errorf("failed to marshal rewards for %s: %w", r.Hash, err)
		}
		batch.Queue(`
			INSERT INTO activity_records (wallet_address, hash, type, ts, payer, payments, rewards)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (wallet_address, hash) DO NOTHING`,
			address, r.Hash, r.Type, r.Timestamp, r.Payer, payments, rewards,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to archive activity record: %w", err)
		}
	}
	return nil
}

// ListActivityRecords returns archived records for a wallet, newest first.
func (s *Store) ListActivityRecords(ctx context.Context, address string, limit, offset int32) ([]activity.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hash, type, ts, payer, payments, rewards
		FROM activity_records
		WHERE wallet_address = $1
		ORDER BY ts DESC
		LIMIT $2 OFFSET $3`,
		address, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity records: %w", err)
	}
	defer rows.Close()

	var records []activity.Record
	for rows.Next() {
		var (
			r        activity.Record
			ts       pgtype.Timestamptz
			payments []byte
			rewards  []byte
		)
		if err := rows.Scan(&r.Hash, &r.Type, &ts, &r.Payer, &payments, &rewards); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		r.Timestamp = ts.Time
		if err := json.Unmarshal(payments, &r.Payments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payments for %s: %w", r.Hash, err)
		}
		if err := json.Unmarshal(rewards, &r.Rewards); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rewards for %s: %w", r.Hash, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountActivityRecords counts archived records for a wallet.
func (s *Store) CountActivityRecords(ctx context.Context, address string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_records WHERE wallet_address = $1`,
		address,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity records: %w", err)
	}
	return count, nil
}

// DeleteHistoryOlderThan prunes archived history samples older than before.
func (s *Store) DeleteHistoryOlderThan(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM balance_history WHERE ts < $1`, before)
	if err != nil {
		return fmt.Errorf("failed to prune balance history: %w", err)
	}
	return nil
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Decimal{}, fmt.Errorf("null balance in balance_history")
	}
	v, err := n.Value()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to read numeric balance: %w", err)
	}
	str, ok := v.(string)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unexpected numeric driver value %T", v)
	}
	return decimal.NewFromString(str)
}
