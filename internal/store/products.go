package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stock-ledger/internal/models"
)

const productColumns = "name, price, picture, type"

// CreateProduct inserts a new catalogue entry
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO Product (name, price, picture, type) VALUES (?, ?, ?, ?)"),
		p.Name, p.Price, p.Picture, p.Type)
	return wrapErr("create product "+p.Name, err)
}

// GetProduct retrieves a product by name
func (s *Store) GetProduct(ctx context.Context, name string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		s.db.Rebind("SELECT "+productColumns+" FROM Product WHERE name = ?"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get product", err)
	}
	return &product, nil
}

// ListProducts reads the whole Product extent
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT "+productColumns+" FROM Product ORDER BY name")
	if err != nil {
		return nil, wrapErr("list products", err)
	}
	return products, nil
}

// UpdateProduct updates price, picture and type of an existing product
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE Product SET price = ?, picture = ?, type = ? WHERE name = ?"),
		p.Price, p.Picture, p.Type, p.Name)
	if err != nil {
		return wrapErr("update product "+p.Name, err)
	}
	return expectRow(res, "product "+p.Name)
}

// RenameProduct changes a product's key; Stock and LoanItem rows follow
// through ON UPDATE CASCADE.
func (s *Store) RenameProduct(ctx context.Context, oldName, newName string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE Product SET name = ? WHERE name = ?"), newName, oldName)
	if err != nil {
		return wrapErr("rename product "+oldName, err)
	}
	return expectRow(res, "product "+oldName)
}

// DeleteProduct removes a product. Products still referenced by stock or
// loan items are rejected with ErrForeignKey.
func (s *Store) DeleteProduct(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM Product WHERE name = ?"), name)
	if err != nil {
		return wrapErr("delete product "+name, err)
	}
	return expectRow(res, "product "+name)
}

// ProductUsage counts the stock batches and loan items referencing a product
func (s *Store) ProductUsage(ctx context.Context, name string) (stockRows, loanItems int, err error) {
	if err = s.db.GetContext(ctx, &stockRows,
		s.db.Rebind("SELECT COUNT(*) FROM Stock WHERE name = ?"), name); err != nil {
		return 0, 0, wrapErr("count stock usage", err)
	}
	if err = s.db.GetContext(ctx, &loanItems,
		s.db.Rebind("SELECT COUNT(*) FROM LoanItem WHERE product_name = ?"), name); err != nil {
		return 0, 0, wrapErr("count loan usage", err)
	}
	return stockRows, loanItems, nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
