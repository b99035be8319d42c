package service

import (
	"context"
	"errors"
	"fmt"

	"stock-ledger/internal/models"
	"stock-ledger/internal/store"
	"stock-ledger/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LoanService records borrow, lend and return events
type LoanService struct {
	store         *store.Store
	publisher     EventPublisher
	invalidator   ReportInvalidator
	adjustDefault bool
	logger        *zap.Logger
}

// NewLoanService creates a new loan service. adjustDefault decides whether a
// loan changes stock when the request does not say.
func NewLoanService(store *store.Store, publisher EventPublisher, invalidator ReportInvalidator, adjustDefault bool) *LoanService {
	return &LoanService{
		store:         store,
		publisher:     publisher,
		invalidator:   invalidator,
		adjustDefault: adjustDefault,
		logger:        util.GetLogger(),
	}
}

// CreateLoanRequest represents a request to record a loan event
type CreateLoanRequest struct {
	Date         string            `json:"date" validate:"required,datetime=2006-01-02"`
	Direction    string            `json:"direction" validate:"required,oneof=loan_in loan_out return_in return_out"`
	Counterparty string            `json:"counterparty" validate:"required"`
	Note         *string           `json:"note,omitempty"`
	AdjustStock  *bool             `json:"adjust_stock,omitempty"`
	Items        []LoanItemRequest `json:"items" validate:"required,min=1,dive"`
}

// LoanItemRequest represents an item in a loan event
type LoanItemRequest struct {
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"gt=0"`
	Expiry      string `json:"expiry" validate:"required,datetime=2006-01-02"`
}

// CreateLoan validates and stores a loan with its items. When stock is
// adjusted, a shortfall on any item rejects the whole loan.
func (s *LoanService) CreateLoan(ctx context.Context, req *CreateLoanRequest) (*models.Loan, error) {
	ctx, span := util.StartSpan(ctx, "LoanService.CreateLoan", attribute.String("loan.direction", req.Direction))
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}

	adjust := s.adjustDefault
	if req.AdjustStock != nil {
		adjust = *req.AdjustStock
	}

	loan := &models.Loan{
		LoanHeader: models.LoanHeader{
			Date:         req.Date,
			Direction:    req.Direction,
			Counterparty: req.Counterparty,
			Note:         req.Note,
		},
		Items: make([]models.LoanItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		loan.Items = append(loan.Items, models.LoanItem{
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Expiry:      it.Expiry,
		})
	}

	if err := s.store.CreateLoan(ctx, loan, adjust); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "items.product_name", Message: err.Error()}
		}
		return nil, util.FailSpan(span, fmt.Errorf("failed to create loan: %w", err))
	}

	util.LoansRecordedTotal.WithLabelValues(loan.Direction).Inc()
	s.logger.Info("Loan recorded",
		zap.String("loan_id", loan.ID),
		zap.String("direction", loan.Direction),
		zap.String("counterparty", loan.Counterparty),
		zap.Int("items", len(loan.Items)),
		zap.Bool("stock_adjusted", adjust))

	if adjust {
		invalidateReport(ctx, s.invalidator, s.logger)
	}

	if s.publisher != nil {
		items := make([]models.StockDeltaData, 0, len(loan.Items))
		for _, it := range loan.Items {
			delta, _ := models.StockDelta(loan.Direction, it.Quantity)
			items = append(items, models.StockDeltaData{Name: it.ProductName, Expiry: it.Expiry, Delta: delta})
		}
		event := &models.LoanRecordedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeLoanRecorded),
			LoanID:        loan.ID,
			Direction:     loan.Direction,
			Counterparty:  loan.Counterparty,
			StockAdjusted: adjust,
			Items:         items,
		}
		if err := s.publisher.PublishLoanRecorded(ctx, event); err != nil {
			s.logger.Error("Failed to publish LoanRecorded event", zap.Error(err))
		}
	}

	return loan, nil
}

// GetLoan retrieves a loan with its items
func (s *LoanService) GetLoan(ctx context.Context, id string) (*models.Loan, error) {
	return s.store.GetLoan(ctx, id)
}

// ListLoans returns loans matching the filter, newest first
func (s *LoanService) ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.Loan, error) {
	ctx, span := util.StartSpan(ctx, "LoanService.ListLoans")
	defer span.End()

	if filter.Direction != "" {
		if _, err := models.StockDelta(filter.Direction, 0); err != nil {
			return nil, &ValidationError{Field: "direction", Message: err.Error()}
		}
	}
	return s.store.ListLoans(ctx, filter)
}

// DeleteLoan removes a loan and its items. Stock is left as it is.
func (s *LoanService) DeleteLoan(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "LoanService.DeleteLoan")
	defer span.End()

	if err := s.store.DeleteLoan(ctx, id); err != nil {
		return err
	}

	util.LoansDeletedTotal.Inc()
	s.logger.Info("Loan deleted", zap.String("loan_id", id))

	if s.publisher != nil {
		event := &models.LoanDeletedEvent{
			BaseEvent: newBaseEvent(models.EventTypeLoanDeleted),
			LoanID:    id,
		}
		if err := s.publisher.PublishLoanDeleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish LoanDeleted event", zap.Error(err))
		}
	}
	return nil
}
