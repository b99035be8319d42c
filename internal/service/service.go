package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-ledger/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher receives domain events after a change is committed. A nil
// publisher disables events.
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error
	PublishLoanRecorded(ctx context.Context, event *models.LoanRecordedEvent) error
	PublishLoanDeleted(ctx context.Context, event *models.LoanDeletedEvent) error
	PublishProductChanged(ctx context.Context, event *models.ProductChangedEvent) error
}

// ReportInvalidator drops a cached valuation once stock or prices change.
// A nil invalidator means nothing is cached.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

func invalidateReport(ctx context.Context, inv ReportInvalidator, logger *zap.Logger) {
	if inv == nil {
		return
	}
	if err := inv.Invalidate(ctx); err != nil {
		logger.Warn("Failed to invalidate valuation report", zap.Error(err))
	}
}

// ValidationError reports input rejected before it reached the store
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

var validate = validator.New()

// validateStruct runs the struct tags and converts the first failure into a
// ValidationError.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	msg := "failed on " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return &ValidationError{Field: fieldPath(fe.Namespace()), Message: msg}
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
