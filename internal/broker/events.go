package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"stock-ledger/internal/models"
	"stock-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventProducer writes one keyed event
type EventProducer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventProducer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventProducer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStockChanged publishes StockChanged event
func (ep *EventPublisher) PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "stock", event)
}

// PublishLoanRecorded publishes LoanRecorded event
func (ep *EventPublisher) PublishLoanRecorded(ctx context.Context, event *models.LoanRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, "loan-"+event.LoanID, event)
}

// PublishLoanDeleted publishes LoanDeleted event
func (ep *EventPublisher) PublishLoanDeleted(ctx context.Context, event *models.LoanDeletedEvent) error {
	return ep.producer.PublishEvent(ctx, "loan-"+event.LoanID, event)
}

// PublishProductChanged publishes ProductChanged event
func (ep *EventPublisher) PublishProductChanged(ctx context.Context, event *models.ProductChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.Name, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onStockChanged   func(context.Context, *models.StockChangedEvent) error
	onLoanRecorded   func(context.Context, *models.LoanRecordedEvent) error
	onLoanDeleted    func(context.Context, *models.LoanDeletedEvent) error
	onProductChanged func(context.Context, *models.ProductChangedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnStockChanged registers a handler for StockChanged events
func (eh *EventHandler) OnStockChanged(handler func(context.Context, *models.StockChangedEvent) error) {
	eh.onStockChanged = handler
}

// OnLoanRecorded registers a handler for LoanRecorded events
func (eh *EventHandler) OnLoanRecorded(handler func(context.Context, *models.LoanRecordedEvent) error) {
	eh.onLoanRecorded = handler
}

// OnLoanDeleted registers a handler for LoanDeleted events
func (eh *EventHandler) OnLoanDeleted(handler func(context.Context, *models.LoanDeletedEvent) error) {
	eh.onLoanDeleted = handler
}

// OnProductChanged registers a handler for ProductChanged events
func (eh *EventHandler) OnProductChanged(handler func(context.Context, *models.ProductChangedEvent) error) {
	eh.onProductChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeStockChanged:
		if eh.onStockChanged != nil {
			var event models.StockChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StockChanged event: %w", err)
			}
			return eh.onStockChanged(ctx, &event)
		}

	case models.EventTypeLoanRecorded:
		if eh.onLoanRecorded != nil {
			var event models.LoanRecordedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LoanRecorded event: %w", err)
			}
			return eh.onLoanRecorded(ctx, &event)
		}

	case models.EventTypeLoanDeleted:
		if eh.onLoanDeleted != nil {
			var event models.LoanDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LoanDeleted event: %w", err)
			}
			return eh.onLoanDeleted(ctx, &event)
		}

	case models.EventTypeProductChanged:
		if eh.onProductChanged != nil {
			var event models.ProductChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductChanged event: %w", err)
			}
			return eh.onProductChanged(ctx, &event)
		}

	default:
		logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
