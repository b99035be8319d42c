package service

import (
	"context"
	"fmt"
	"time"

	"stock-ledger/internal/util"
	"stock-ledger/internal/valuation"

	"go.uber.org/zap"
)

// ReportCache stores the last valuation report. GetReport returns nil, nil
// on a miss.
type ReportCache interface {
	GetReport(ctx context.Context) (*valuation.Report, error)
	SetReport(ctx context.Context, report *valuation.Report, ttl time.Duration) error
	InvalidateReport(ctx context.Context) error
}

// ValuationService computes inventory valuations and keeps the last report
// in an optional cache.
type ValuationService struct {
	aggregator *valuation.Aggregator
	cache      ReportCache
	ttl        time.Duration
	alertDays  int
	logger     *zap.Logger
}

// NewValuationService creates a valuation service over source. cache may be nil.
func NewValuationService(source valuation.Source, cache ReportCache, ttl time.Duration, alertDays int, opts ...valuation.Option) *ValuationService {
	return &ValuationService{
		aggregator: valuation.NewAggregator(source, opts...),
		cache:      cache,
		ttl:        ttl,
		alertDays:  alertDays,
		logger:     util.GetLogger(),
	}
}

// Report returns the cached report when there is one, otherwise computes
// and caches a fresh one.
func (s *ValuationService) Report(ctx context.Context) (*valuation.Report, error) {
	ctx, span := util.StartSpan(ctx, "ValuationService.Report")
	defer span.End()

	if s.cache != nil {
		report, err := s.cache.GetReport(ctx)
		if err != nil {
			s.logger.Warn("Valuation cache read failed, computing", zap.Error(err))
		} else if report != nil {
			util.ValuationCacheHitsTotal.Inc()
			return report, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh computes a fresh report and replaces the cached one
func (s *ValuationService) Refresh(ctx context.Context) (*valuation.Report, error) {
	ctx, span := util.StartSpan(ctx, "ValuationService.Refresh")
	defer span.End()

	report, err := s.Compute(ctx)
	if err != nil {
		return nil, util.FailSpan(span, err)
	}

	if s.cache != nil {
		if err := s.cache.SetReport(ctx, report, s.ttl); err != nil {
			s.logger.Warn("Failed to cache valuation report", zap.Error(err))
		}
	}
	return report, nil
}

// Compute runs the aggregator without touching the cache
func (s *ValuationService) Compute(ctx context.Context) (*valuation.Report, error) {
	start := time.Now()
	report, err := s.aggregator.Compute(ctx)
	util.ValuationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.ValuationRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to compute valuation: %w", err)
	}

	util.ValuationRunsTotal.WithLabelValues("ok").Inc()
	total, _ := report.GrandTotal.Float64()
	util.ValuationGrandTotal.Set(total)
	for kind, n := range report.AnomalyCounts() {
		util.ValuationAnomalies.WithLabelValues(string(kind)).Set(float64(n))
	}

	for _, a := range report.Anomalies {
		s.logger.Warn("Stock excluded from valuation",
			zap.String("kind", string(a.Kind)),
			zap.String("name", a.Name),
			zap.Int64("total_qty", a.TotalQty))
	}
	s.logger.Info("Valuation computed",
		zap.String("grand_total", report.GrandTotal.String()),
		zap.Int("rows", len(report.Rows)),
		zap.Int("anomalies", len(report.Anomalies)))

	return report, nil
}

// Invalidate drops the cached report
func (s *ValuationService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateReport(ctx)
}

// Summary splits the current stock value by expiry status
func (s *ValuationService) Summary(ctx context.Context) (*valuation.Summary, error) {
	ctx, span := util.StartSpan(ctx, "ValuationService.Summary")
	defer span.End()

	summary, err := s.aggregator.Summary(ctx, s.alertDays)
	if err != nil {
		return nil, fmt.Errorf("failed to compute summary: %w", err)
	}
	return summary, nil
}
