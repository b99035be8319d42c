package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stock-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ListStock reads the whole Stock extent
func (s *Store) ListStock(ctx context.Context) ([]models.Stock, error) {
	var stock []models.Stock
	err := s.db.SelectContext(ctx, &stock,
		"SELECT id, name, expiry, COALESCE(quantity, 0) AS quantity FROM Stock ORDER BY name, expiry")
	if err != nil {
		return nil, wrapErr("list stock", err)
	}
	return stock, nil
}

// ListStockByName returns the on-hand quantity per expiry date of a product
func (s *Store) ListStockByName(ctx context.Context, name string) ([]models.ExpiryBucket, error) {
	var buckets []models.ExpiryBucket
	err := s.db.SelectContext(ctx, &buckets, s.db.Rebind(`
		SELECT expiry, COALESCE(SUM(quantity), 0) AS quantity
		FROM Stock
		WHERE name = ?
		GROUP BY expiry
		ORDER BY expiry`), name)
	if err != nil {
		return nil, wrapErr("list stock by name", err)
	}
	return buckets, nil
}

// GetStock retrieves the batch for (name, expiry)
func (s *Store) GetStock(ctx context.Context, name, expiry string) (*models.Stock, error) {
	var st models.Stock
	err := s.db.GetContext(ctx, &st, s.db.Rebind(
		"SELECT id, name, expiry, COALESCE(quantity, 0) AS quantity FROM Stock WHERE name = ? AND expiry = ?"),
		name, expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stock %s/%s: %w", name, expiry, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get stock", err)
	}
	return &st, nil
}

// InsertStock inserts a raw batch row. A second row for an existing
// (name, expiry) pair is rejected with ErrDuplicate.
func (s *Store) InsertStock(ctx context.Context, st *models.Stock) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO Stock (id, name, expiry, quantity) VALUES (?, ?, ?, ?)"),
		st.ID, st.Name, st.Expiry, st.Quantity)
	return wrapErr("insert stock", err)
}

// SetStockQuantity writes the quantity of the (name, expiry) batch,
// creating it if needed. Repeating the call leaves the same state.
func (s *Store) SetStockQuantity(ctx context.Context, name, expiry string, quantity int64) error {
	if quantity < 0 {
		return fmt.Errorf("stock %s/%s: negative quantity %d: %w", name, expiry, quantity, ErrCheck)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO Stock (id, name, expiry, quantity) VALUES (?, ?, ?, ?)
		ON CONFLICT (name, expiry) DO UPDATE SET quantity = excluded.quantity`),
		uuid.New().String(), name, expiry, quantity)
	return wrapErr("set stock quantity", err)
}

// AdjustStock applies delta to the (name, expiry) batch and returns the new
// quantity. The batch never goes below zero.
func (s *Store) AdjustStock(ctx context.Context, name, expiry string, delta int64) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin adjust stock", err)
	}
	defer tx.Rollback()

	qty, err := s.adjustStockTx(ctx, tx, name, expiry, delta)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit adjust stock", err)
	}
	return qty, nil
}

// AdjustStockBatch applies every delta in one transaction
func (s *Store) AdjustStockBatch(ctx context.Context, deltas []models.StockDeltaData) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("begin adjust stock batch", err)
	}
	defer tx.Rollback()

	for _, d := range deltas {
		if _, err := s.adjustStockTx(ctx, tx, d.Name, d.Expiry, d.Delta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit adjust stock batch", err)
	}
	return nil
}

func (s *Store) adjustStockTx(ctx context.Context, tx *sqlx.Tx, name, expiry string, delta int64) (int64, error) {
	var current int64
	exists := true
	err := tx.GetContext(ctx, &current, s.db.Rebind(
		"SELECT COALESCE(quantity, 0) FROM Stock WHERE name = ? AND expiry = ?"+s.dialect.forUpdate()),
		name, expiry)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		current = 0
	} else if err != nil {
		return 0, wrapErr("lock stock", err)
	}

	next := current + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: %s (expiry %s) has %d, requested %d",
			ErrInsufficientStock, name, expiry, current, -delta)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			s.db.Rebind("UPDATE Stock SET quantity = ? WHERE name = ? AND expiry = ?"),
			next, name, expiry)
	} else {
		_, err = tx.ExecContext(ctx,
			s.db.Rebind("INSERT INTO Stock (id, name, expiry, quantity) VALUES (?, ?, ?, ?)"),
			uuid.New().String(), name, expiry, next)
	}
	if err != nil {
		return 0, wrapErr(fmt.Sprintf("adjust stock %s/%s", name, expiry), err)
	}
	return next, nil
}
