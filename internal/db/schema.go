package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tracked_items (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL UNIQUE,
		current_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
		target_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
		external_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		image_url      TEXT NOT NULL DEFAULT '',
		last_updated   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id          BIGSERIAL PRIMARY KEY,
		item_id     TEXT NOT NULL REFERENCES tracked_items(id) ON DELETE CASCADE,
		price       DOUBLE PRECISION NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_item_observed_idx
		ON price_history (item_id, observed_at, id)`,
	`CREATE INDEX IF NOT EXISTS tracked_items_last_updated_idx
		ON tracked_items (last_updated DESC)`,
}

// EnsureSchema creates the tables the store needs. Safe to run on every start.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
