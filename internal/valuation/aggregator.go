// Package valuation turns the Product and Stock extents into a point-in-time
// inventory valuation.
//
// The pipeline runs in a fixed order: filter out fixture batches, group the
// remaining batches by product name, left-join the groups with product
// prices, multiply, and sum. Money is exact: quantities and prices are
// integer minor units and totals are decimal.Decimal.
//
// Batches whose product is missing, or whose product has no price, do not
// count toward the grand total. They are not treated as zero either; they
// are listed in Report.Anomalies so callers can judge the figure.
package valuation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stock-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// Source supplies the two extents the aggregator reads
type Source interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListStock(ctx context.Context) ([]models.Stock, error)
}

type AnomalyKind string

const (
	AnomalyMissingProduct AnomalyKind = "missing_product"
	AnomalyMissingPrice   AnomalyKind = "missing_price"
)

// Anomaly is a grouped stock row left out of the grand total
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Name     string      `json:"name"`
	TotalQty int64       `json:"total_qty"`
}

// Row is one product of the per-product breakdown. Price and TotalValue are
// nil when the price is unknown.
type Row struct {
	Name       string           `json:"name"`
	TotalQty   int64            `json:"total_qty"`
	Price      *int64           `json:"price"`
	TotalValue *decimal.Decimal `json:"total_value"`
}

type Report struct {
	Rows          []Row           `json:"rows"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Anomalies     []Anomaly       `json:"anomalies"`
	ExcludedNames []string        `json:"excluded_names"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// HasAnomalies reports whether any stock was left out of the grand total
func (r *Report) HasAnomalies() bool {
	return len(r.Anomalies) > 0
}

// AnomalyCounts returns the number of anomalies per kind
func (r *Report) AnomalyCounts() map[AnomalyKind]int {
	counts := map[AnomalyKind]int{
		AnomalyMissingProduct: 0,
		AnomalyMissingPrice:   0,
	}
	for _, a := range r.Anomalies {
		counts[a.Kind]++
	}
	return counts
}

type Aggregator struct {
	source   Source
	excluded map[string]struct{}
	now      func() time.Time
}

type Option func(*Aggregator)

// WithExcludedNames replaces the default fixture-name set
func WithExcludedNames(names ...string) Option {
	return func(a *Aggregator) {
		a.excluded = make(map[string]struct{}, len(names))
		for _, n := range names {
			a.excluded[n] = struct{}{}
		}
	}
}

// WithClock sets the time source used for GeneratedAt and expiry buckets
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator that excludes the "test" fixture
// product unless told otherwise.
func NewAggregator(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:   source,
		excluded: map[string]struct{}{models.TestProductName: {}},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute reads both extents and builds the report. Read failures are
// returned unchanged in kind; data anomalies never fail the computation.
func (a *Aggregator) Compute(ctx context.Context) (*Report, error) {
	products, stock, err := a.read(ctx)
	if err != nil {
		return nil, err
	}
	return Build(products, stock, a.excludedNames(), a.now()), nil
}

// Summary reads both extents and splits the stock value by expiry status
func (a *Aggregator) Summary(ctx context.Context, alertDays int) (*Summary, error) {
	products, stock, err := a.read(ctx)
	if err != nil {
		return nil, err
	}
	stock = filterStock(stock, a.excluded)
	s := Summarize(products, stock, a.now(), alertDays)
	return &s, nil
}

// Overview reads both extents and returns the per-product stock overview,
// leaving out the excluded names.
func (a *Aggregator) Overview(ctx context.Context, alertDays int) ([]OverviewRow, error) {
	products, stock, err := a.read(ctx)
	if err != nil {
		return nil, err
	}
	stock = filterStock(stock, a.excluded)
	return Overview(products, stock, a.now(), alertDays), nil
}

func (a *Aggregator) read(ctx context.Context) ([]models.Product, []models.Stock, error) {
	products, err := a.source.ListProducts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read products: %w", err)
	}
	stock, err := a.source.ListStock(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read stock: %w", err)
	}
	return products, stock, nil
}

func (a *Aggregator) excludedNames() []string {
	names := make([]string, 0, len(a.excluded))
	for n := range a.excluded {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build runs the valuation pipeline over in-memory extents
func Build(products []models.Product, stock []models.Stock, excluded []string, now time.Time) *Report {
	skip := make(map[string]struct{}, len(excluded))
	for _, n := range excluded {
		skip[n] = struct{}{}
	}

	groups := groupByName(filterStock(stock, skip))
	rows, anomalies := joinPrices(groups, products)

	if anomalies == nil {
		anomalies = []Anomaly{}
	}
	if excluded == nil {
		excluded = []string{}
	}
	return &Report{
		Rows:          rows,
		GrandTotal:    sumValues(rows),
		Anomalies:     anomalies,
		ExcludedNames: excluded,
		GeneratedAt:   now,
	}
}
