package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stock-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateLoan stores a loan header and its items in one transaction. When
// adjustStock is set the signed stock change of every item is applied in
// the same transaction, so a shortfall rolls back the whole event.
func (s *Store) CreateLoan(ctx context.Context, loan *models.Loan, adjustStock bool) error {
	if loan.ID == "" {
		loan.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("begin create loan", err)
	}
	defer tx.Rollback()

	for _, it := range loan.Items {
		if err := s.requireProductTx(ctx, tx, it.ProductName); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO LoanHeader (id, date, direction, counterparty, note)
		VALUES (?, ?, ?, ?, ?)`),
		loan.ID, loan.Date, loan.Direction, loan.Counterparty, loan.Note)
	if err != nil {
		return wrapErr("insert loan header", err)
	}

	for i := range loan.Items {
		it := &loan.Items[i]
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		it.LoanID = loan.ID

		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO LoanItem (id, loan_id, product_name, quantity, expiry)
			VALUES (?, ?, ?, ?, ?)`),
			it.ID, it.LoanID, it.ProductName, it.Quantity, it.Expiry)
		if err != nil {
			return wrapErr("insert loan item "+it.ProductName, err)
		}
	}

	if adjustStock {
		for _, it := range loan.Items {
			delta, err := models.StockDelta(loan.Direction, it.Quantity)
			if err != nil {
				return err
			}
			if _, err := s.adjustStockTx(ctx, tx, it.ProductName, it.Expiry, delta); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit create loan", err)
	}
	return nil
}

func (s *Store) requireProductTx(ctx context.Context, tx *sqlx.Tx, name string) error {
	var one int
	err := tx.GetContext(ctx, &one, s.db.Rebind("SELECT 1 FROM Product WHERE name = ? LIMIT 1"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return wrapErr("check product", err)
	}
	return nil
}

// GetLoan retrieves a loan with its items
func (s *Store) GetLoan(ctx context.Context, id string) (*models.Loan, error) {
	var header models.LoanHeader
	err := s.db.GetContext(ctx, &header, s.db.Rebind(
		"SELECT id, date, direction, counterparty, note FROM LoanHeader WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get loan", err)
	}

	items, err := s.loanItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return &models.Loan{LoanHeader: header, Items: nonNil(items[id])}, nil
}

// ListLoans returns loans matching the filter, newest first
func (s *Store) ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.Loan, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Counterparty != "" {
		where = append(where, "counterparty = ?")
		args = append(args, filter.Counterparty)
	}
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.From != "" {
		where = append(where, "date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "date <= ?")
		args = append(args, filter.To)
	}

	q := "SELECT id, date, direction, counterparty, note FROM LoanHeader"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date DESC, id"

	var headers []models.LoanHeader
	if err := s.db.SelectContext(ctx, &headers, s.db.Rebind(q), args...); err != nil {
		return nil, wrapErr("list loans", err)
	}
	if len(headers) == 0 {
		return []models.Loan{}, nil
	}

	ids := make([]string, len(headers))
	for i, h := range headers {
		ids[i] = h.ID
	}
	items, err := s.loanItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	loans := make([]models.Loan, len(headers))
	for i, h := range headers {
		loans[i] = models.Loan{LoanHeader: h, Items: nonNil(items[h.ID])}
	}
	return loans, nil
}

func (s *Store) loanItems(ctx context.Context, loanIDs []string) (map[string][]models.LoanItem, error) {
	query, args, err := sqlx.In(
		"SELECT id, loan_id, product_name, quantity, expiry FROM LoanItem WHERE loan_id IN (?) ORDER BY loan_id, product_name, id",
		loanIDs)
	if err != nil {
		return nil, err
	}

	var items []models.LoanItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, wrapErr("list loan items", err)
	}

	byLoan := make(map[string][]models.LoanItem, len(loanIDs))
	for _, it := range items {
		byLoan[it.LoanID] = append(byLoan[it.LoanID], it)
	}
	return byLoan, nil
}

// DeleteLoan removes a loan header; its items go with it via ON DELETE CASCADE
func (s *Store) DeleteLoan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM LoanHeader WHERE id = ?"), id)
	if err != nil {
		return wrapErr("delete loan", err)
	}
	return expectRow(res, "loan "+id)
}

// CountLoanItems counts the items of one loan
func (s *Store) CountLoanItems(ctx context.Context, loanID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM LoanItem WHERE loan_id = ?"), loanID)
	if err != nil {
		return 0, wrapErr("count loan items", err)
	}
	return n, nil
}

func nonNil(items []models.LoanItem) []models.LoanItem {
	if items == nil {
		return []models.LoanItem{}
	}
	return items
}
