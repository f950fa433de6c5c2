package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/sniper-backend/internal/models"
)

var ErrItemNotFound = errors.New("tracked item not found")

const itemColumns = `id, name, current_price, target_price, external_price, image_url, last_updated, created_at`

type ItemRepo struct {
	pool *pgxpool.Pool
}

func NewItemRepo(pool *pgxpool.Pool) *ItemRepo {
	return &ItemRepo{pool: pool}
}

// UpsertByName returns the item with the given name, creating it when absent.
// created is false when the name was already tracked; the existing record is
// returned untouched.
func (r *ItemRepo) UpsertByName(ctx context.Context, name string) (*models.TrackedItem, bool, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO tracked_items (id, name, last_updated, created_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), name, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}

	item, err := scanItem(r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM tracked_items WHERE name = $1`, name,
	))
	if err != nil {
		return nil, false, fmt.Errorf("select item by name: %w", err)
	}
	if err := r.attachHistory(ctx, []*models.TrackedItem{item}); err != nil {
		return nil, false, err
	}
	return item, tag.RowsAffected() == 1, nil
}

// ListAll returns every tracked item, most recently touched first, each with
// its full chronological history.
func (r *ItemRepo) ListAll(ctx context.Context) ([]models.TrackedItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM tracked_items ORDER BY last_updated DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}

	ptrs := make([]*models.TrackedItem, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	if err := r.attachHistory(ctx, ptrs); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ItemRepo) Get(ctx context.Context, id string) (*models.TrackedItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM tracked_items WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if err := r.attachHistory(ctx, []*models.TrackedItem{item}); err != nil {
		return nil, err
	}
	return item, nil
}

// Update applies the non-nil fields of patch and returns the updated record.
func (r *ItemRepo) Update(ctx context.Context, id string, patch models.ItemPatch) (*models.TrackedItem, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tracked_items
		 SET target_price   = COALESCE($2, target_price),
		     external_price = COALESCE($3, external_price)
		 WHERE id = $1`,
		id, patch.TargetPrice, patch.ExternalPrice,
	)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrItemNotFound
	}
	return r.Get(ctx, id)
}

// SetTarget arms (target > 0) or disarms (target == 0) the price alert.
func (r *ItemRepo) SetTarget(ctx context.Context, id string, target float64) (*models.TrackedItem, error) {
	return r.Update(ctx, id, models.ItemPatch{TargetPrice: &target})
}

// Delete removes the item; its history goes with it through the cascade.
func (r *ItemRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tracked_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// RecordObservation appends a history point and moves current_price and
// last_updated in the same transaction. An empty imageURL keeps the stored one.
func (r *ItemRepo) RecordObservation(ctx context.Context, id string, price float64, imageURL string, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE tracked_items
		 SET current_price = $2,
		     image_url     = CASE WHEN $3 = '' THEN image_url ELSE $3 END,
		     last_updated  = $4
		 WHERE id = $1`,
		id, price, imageURL, at,
	)
	if err != nil {
		return fmt.Errorf("update current price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO price_history (item_id, price, observed_at) VALUES ($1, $2, $3)`,
		id, price, at,
	); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ItemRepo) attachHistory(ctx context.Context, items []*models.TrackedItem) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	byID := make(map[string]*models.TrackedItem, len(items))
	for i, it := range items {
		ids[i] = it.ID
		it.PriceHistory = []models.PricePoint{}
		byID[it.ID] = it
	}

	rows, err := r.pool.Query(ctx,
		`SELECT item_id, price, observed_at FROM price_history
		 WHERE item_id = ANY($1)
		 ORDER BY item_id, observed_at ASC, id ASC`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			itemID string
			p      models.PricePoint
		)
		if err := rows.Scan(&itemID, &p.Price, &p.ObservedAt); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		if it, ok := byID[itemID]; ok {
			it.PriceHistory = append(it.PriceHistory, p)
		}
	}
	return rows.Err()
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*models.TrackedItem, error) {
	var it models.TrackedItem
	err := row.Scan(&it.ID, &it.Name, &it.CurrentPrice, &it.TargetPrice,
		&it.ExternalPrice, &it.ImageURL, &it.LastUpdated, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectItems(rows rowsIter) ([]models.TrackedItem, error) {
	out := []models.TrackedItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}
