package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements are applied in order on startup. Each one is idempotent so the
// list can be re-run against an existing database.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS trading_pairs (
		id TEXT PRIMARY KEY,
		asset TEXT NOT NULL,
		fiat TEXT NOT NULL,
		pair_symbol TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		collection_interval_minutes INTEGER NOT NULL,
		collection_config JSONB NOT NULL DEFAULT '{}',
		use_volume_sampling BOOLEAN NOT NULL DEFAULT FALSE,
		volume_ranges JSONB NOT NULL DEFAULT '[]',
		default_sample_volume NUMERIC NOT NULL,
		min_trade_amount NUMERIC,
		max_trade_amount NUMERIC,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		id TEXT PRIMARY KEY,
		pair_id TEXT NOT NULL REFERENCES trading_pairs(id),
		trade_type TEXT NOT NULL,
		collected_at TIMESTAMPTZ NOT NULL,
		raw_data JSONB,
		total_ads INTEGER NOT NULL DEFAULT 0,
		data_quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		collection_metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_pair_type_collected
		ON market_snapshots (pair_id, trade_type, collected_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_collected
		ON market_snapshots (collected_at)`,
	`CREATE TABLE IF NOT EXISTS order_book_entries (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES market_snapshots(id) ON DELETE CASCADE,
		side TEXT NOT NULL,
		price NUMERIC NOT NULL,
		quantity NUMERIC NOT NULL,
		total_amount NUMERIC NOT NULL,
		min_order_limit NUMERIC,
		max_order_limit NUMERIC,
		merchant_name TEXT NOT NULL DEFAULT '',
		merchant_id TEXT NOT NULL DEFAULT '',
		completion_rate INTEGER,
		trade_count INTEGER,
		payment_methods JSONB NOT NULL DEFAULT '[]',
		merchant_metadata JSONB NOT NULL DEFAULT '{}',
		is_pro_merchant BOOLEAN NOT NULL DEFAULT FALSE,
		is_kyc_verified BOOLEAN NOT NULL DEFAULT FALSE,
		avg_pay_time_minutes NUMERIC,
		avg_release_time_minutes NUMERIC,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_snapshot_side_price
		ON order_book_entries (snapshot_id, side, price)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_merchant
		ON order_book_entries (merchant_id)`,
}

// Apply executes every migration statement in a single transaction, so a
// failure partway through leaves the schema untouched.
func Apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrations: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// Count reports the number of migration statements. Exposed for tests.
func Count() int { return len(statements) }
