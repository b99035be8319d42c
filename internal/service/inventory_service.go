package service

import (
	"context"
	"errors"
	"fmt"

	"stock-ledger/internal/models"
	"stock-ledger/internal/store"
	"stock-ledger/internal/util"
	"stock-ledger/internal/valuation"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryService handles the product catalogue and stock batches
type InventoryService struct {
	store       *store.Store
	publisher   EventPublisher
	invalidator ReportInvalidator
	aggregator  *valuation.Aggregator
	alertDays   int
	logger      *zap.Logger
}

// NewInventoryService creates a new inventory service. publisher and
// invalidator may be nil; opts configure the stock overview.
func NewInventoryService(store *store.Store, publisher EventPublisher, invalidator ReportInvalidator, alertDays int, opts ...valuation.Option) *InventoryService {
	return &InventoryService{
		store:       store,
		publisher:   publisher,
		invalidator: invalidator,
		aggregator:  valuation.NewAggregator(store, opts...),
		alertDays:   alertDays,
		logger:      util.GetLogger(),
	}
}

// StockLine is one batch in a receive or remove request
type StockLine struct {
	Name     string `json:"name" validate:"required"`
	Expiry   string `json:"expiry" validate:"required,datetime=2006-01-02"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// StockChangeRequest moves stock in or out of one or more batches
type StockChangeRequest struct {
	Items []StockLine `json:"items" validate:"required,min=1,dive"`
}

// RenameProductRequest changes a product's key
type RenameProductRequest struct {
	NewName string `json:"new_name" validate:"required,max=200"`
}

// CreateProduct adds a product to the catalogue
func (s *InventoryService) CreateProduct(ctx context.Context, p *models.Product) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateProduct")
	defer span.End()

	if err := validateStruct(p); err != nil {
		return err
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.String("name", p.Name))
	s.publishProductChanged(ctx, p.Name, "", "created")
	return nil
}

// GetProduct retrieves a product by name
func (s *InventoryService) GetProduct(ctx context.Context, name string) (*models.Product, error) {
	return s.store.GetProduct(ctx, name)
}

// ListProducts returns the whole catalogue
func (s *InventoryService) ListProducts(ctx context.Context) ([]models.Product, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []models.Product{}
	}
	return products, nil
}

// UpdateProduct replaces price, picture and type of a product
func (s *InventoryService) UpdateProduct(ctx context.Context, p *models.Product) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.UpdateProduct")
	defer span.End()

	if err := validateStruct(p); err != nil {
		return err
	}
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}

	s.logger.Info("Product updated", zap.String("name", p.Name))
	s.publishProductChanged(ctx, p.Name, "", "updated")
	return nil
}

// RenameProduct renames a product; stock batches and loan items follow
func (s *InventoryService) RenameProduct(ctx context.Context, oldName string, req *RenameProductRequest) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.RenameProduct")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return err
	}
	if req.NewName == oldName {
		return nil
	}
	if err := s.store.RenameProduct(ctx, oldName, req.NewName); err != nil {
		return fmt.Errorf("failed to rename product: %w", err)
	}

	s.logger.Info("Product renamed", zap.String("old_name", oldName), zap.String("name", req.NewName))
	s.publishProductChanged(ctx, req.NewName, oldName, "renamed")
	return nil
}

// DeleteProduct removes a product that no stock batch or loan item uses
func (s *InventoryService) DeleteProduct(ctx context.Context, name string) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.DeleteProduct")
	defer span.End()

	stockRows, loanItems, err := s.store.ProductUsage(ctx, name)
	if err != nil {
		return err
	}
	if stockRows > 0 || loanItems > 0 {
		return fmt.Errorf("product %q is used by %d stock batches and %d loan items: %w",
			name, stockRows, loanItems, store.ErrForeignKey)
	}

	if err := s.store.DeleteProduct(ctx, name); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	s.logger.Info("Product deleted", zap.String("name", name))
	s.publishProductChanged(ctx, name, "", "deleted")
	return nil
}

// ReceiveStock adds the requested quantities to their batches in one
// transaction, creating batches as needed.
func (s *InventoryService) ReceiveStock(ctx context.Context, req *StockChangeRequest) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReceiveStock", attribute.Int("stock.lines", len(req.Items)))
	defer span.End()

	return util.FailSpan(span, s.changeStock(ctx, req, "receive", 1))
}

// RemoveStock takes the requested quantities out of their batches. A batch
// never goes below zero; a shortfall rejects the whole request.
func (s *InventoryService) RemoveStock(ctx context.Context, req *StockChangeRequest) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.RemoveStock", attribute.Int("stock.lines", len(req.Items)))
	defer span.End()

	return util.FailSpan(span, s.changeStock(ctx, req, "remove", -1))
}

func (s *InventoryService) changeStock(ctx context.Context, req *StockChangeRequest, reason string, sign int64) error {
	if err := validateStruct(req); err != nil {
		util.StockMutationsFailed.WithLabelValues("invalid_request").Inc()
		return err
	}

	deltas := make([]models.StockDeltaData, 0, len(req.Items))
	for _, it := range req.Items {
		if _, err := s.store.GetProduct(ctx, it.Name); err != nil {
			util.StockMutationsFailed.WithLabelValues("unknown_product").Inc()
			if errors.Is(err, store.ErrNotFound) {
				return &ValidationError{Field: "items.name", Message: fmt.Sprintf("unknown product %q", it.Name)}
			}
			return err
		}
		deltas = append(deltas, models.StockDeltaData{Name: it.Name, Expiry: it.Expiry, Delta: sign * it.Quantity})
	}

	if err := s.store.AdjustStockBatch(ctx, deltas); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			util.StockMutationsFailed.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.StockMutationsFailed.WithLabelValues("db_error").Inc()
		}
		return fmt.Errorf("failed to %s stock: %w", reason, err)
	}

	util.StockMutationsTotal.WithLabelValues(reason).Add(float64(len(deltas)))
	s.logger.Info("Stock changed", zap.String("reason", reason), zap.Int("batches", len(deltas)))
	invalidateReport(ctx, s.invalidator, s.logger)

	if s.publisher != nil {
		event := &models.StockChangedEvent{
			BaseEvent: newBaseEvent(models.EventTypeStockChanged),
			Reason:    reason,
			Items:     deltas,
		}
		if err := s.publisher.PublishStockChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish StockChanged event", zap.Error(err))
		}
	}
	return nil
}

// StockOverview returns the per-product stock position with the quantity
// expiring inside the alert window.
func (s *InventoryService) StockOverview(ctx context.Context) ([]valuation.OverviewRow, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.StockOverview")
	defer span.End()

	return s.aggregator.Overview(ctx, s.alertDays)
}

// ExpiryHistogram returns the quantity on hand per expiry date of a product
func (s *InventoryService) ExpiryHistogram(ctx context.Context, name string) ([]models.ExpiryBucket, error) {
	if _, err := s.store.GetProduct(ctx, name); err != nil {
		return nil, err
	}
	buckets, err := s.store.ListStockByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []models.ExpiryBucket{}
	}
	return buckets, nil
}

func (s *InventoryService) publishProductChanged(ctx context.Context, name, oldName, action string) {
	invalidateReport(ctx, s.invalidator, s.logger)
	if s.publisher == nil {
		return
	}
	event := &models.ProductChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeProductChanged),
		Name:      name,
		OldName:   oldName,
		Action:    action,
	}
	if err := s.publisher.PublishProductChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish ProductChanged event", zap.Error(err))
	}
}
