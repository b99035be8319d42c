package worker

import (
	"context"

	"stock-ledger/internal/broker"
	"stock-ledger/internal/models"
	"stock-ledger/internal/util"
	"stock-ledger/internal/valuation"

	"go.uber.org/zap"
)

// Refresher recomputes the cached valuation
type Refresher interface {
	Refresh(ctx context.Context) (*valuation.Report, error)
}

// ValuationWorker keeps the cached valuation current by recomputing it
// after every event that can change stock or prices.
type ValuationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	refresher    Refresher
	logger       *zap.Logger
}

// NewValuationWorker creates a new valuation worker
func NewValuationWorker(consumer *broker.Consumer, refresher Refresher) *ValuationWorker {
	w := &ValuationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		refresher:    refresher,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnStockChanged(func(ctx context.Context, e *models.StockChangedEvent) error {
		return w.refresh(ctx, e.EventType, e.EventID)
	})
	w.eventHandler.OnLoanRecorded(func(ctx context.Context, e *models.LoanRecordedEvent) error {
		if !e.StockAdjusted {
			return nil
		}
		return w.refresh(ctx, e.EventType, e.EventID)
	})
	w.eventHandler.OnProductChanged(func(ctx context.Context, e *models.ProductChangedEvent) error {
		return w.refresh(ctx, e.EventType, e.EventID)
	})

	return w
}

func (w *ValuationWorker) refresh(ctx context.Context, eventType, eventID string) error {
	report, err := w.refresher.Refresh(ctx)
	if err != nil {
		w.logger.Error("Valuation refresh failed",
			zap.String("event_type", eventType),
			zap.String("event_id", eventID),
			zap.Error(err))
		return err
	}
	w.logger.Debug("Valuation refreshed",
		zap.String("event_type", eventType),
		zap.String("grand_total", report.GrandTotal.String()))
	return nil
}

// Start starts the worker
func (w *ValuationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting valuation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ValuationWorker) Stop() error {
	w.logger.Info("Stopping valuation worker")
	return w.consumer.Close()
}
