package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stock-ledger/config"
	"stock-ledger/internal/models"
	"stock-ledger/internal/store"
	"stock-ledger/internal/valuation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	stock  []*models.StockChangedEvent
	loans  []*models.LoanRecordedEvent
	delete []*models.LoanDeletedEvent
	prods  []*models.ProductChangedEvent
}

func (p *recordingPublisher) PublishStockChanged(_ context.Context, e *models.StockChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock = append(p.stock, e)
	return nil
}

func (p *recordingPublisher) PublishLoanRecorded(_ context.Context, e *models.LoanRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loans = append(p.loans, e)
	return nil
}

func (p *recordingPublisher) PublishLoanDeleted(_ context.Context, e *models.LoanDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delete = append(p.delete, e)
	return nil
}

func (p *recordingPublisher) PublishProductChanged(_ context.Context, e *models.ProductChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prods = append(p.prods, e)
	return nil
}

type memoryCache struct {
	report *valuation.Report
	ttl    time.Duration
	sets   int
	getErr error
}

func (c *memoryCache) GetReport(context.Context) (*valuation.Report, error) {
	return c.report, c.getErr
}

func (c *memoryCache) SetReport(_ context.Context, r *valuation.Report, ttl time.Duration) error {
	c.report, c.ttl = r, ttl
	c.sets++
	return nil
}

func (c *memoryCache) InvalidateReport(context.Context) error {
	c.report = nil
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewStore(ctx, config.Credentials{URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func price(v int64) *int64 { return &v }

func TestInventoryProductLifecycle(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewInventoryService(newTestStore(t), pub, nil, 30)

	require.NoError(t, svc.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))

	err := svc.CreateProduct(ctx, &models.Product{Name: ""})
	assert.True(t, IsValidationError(err))

	err = svc.CreateProduct(ctx, &models.Product{Name: "negative", Price: price(-1)})
	assert.True(t, IsValidationError(err))

	require.NoError(t, svc.UpdateProduct(ctx, &models.Product{Name: "widget", Price: price(120)}))
	require.NoError(t, svc.RenameProduct(ctx, "widget", &RenameProductRequest{NewName: "gizmo"}))

	p, err := svc.GetProduct(ctx, "gizmo")
	require.NoError(t, err)
	assert.Equal(t, int64(120), *p.Price)

	require.NoError(t, svc.DeleteProduct(ctx, "gizmo"))
	_, err = svc.GetProduct(ctx, "gizmo")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, pub.prods, 4)
	assert.Equal(t, "renamed", pub.prods[2].Action)
	assert.Equal(t, "widget", pub.prods[2].OldName)
}

func TestDeleteProductInUse(t *testing.T) {
	ctx := context.Background()
	svc := NewInventoryService(newTestStore(t), nil, nil, 30)

	require.NoError(t, svc.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, svc.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 1},
	}}))

	err := svc.DeleteProduct(ctx, "widget")
	assert.ErrorIs(t, err, store.ErrForeignKey)
	assert.Contains(t, err.Error(), "1 stock batches")
}

func TestReceiveAndRemoveStock(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewInventoryService(newTestStore(t), pub, nil, 30)
	require.NoError(t, svc.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))

	require.NoError(t, svc.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 5},
		{Name: "widget", Expiry: "2030-06-01", Quantity: 2},
	}}))
	require.NoError(t, svc.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 1},
	}}))
	require.NoError(t, svc.RemoveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-06-01", Quantity: 2},
	}}))

	err := svc.RemoveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 1},
		{Name: "widget", Expiry: "2030-06-01", Quantity: 1},
	}})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	buckets, err := svc.ExpiryHistogram(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, []models.ExpiryBucket{
		{Expiry: "2030-01-01", Quantity: 6},
		{Expiry: "2030-06-01", Quantity: 0},
	}, buckets)

	require.Len(t, pub.stock, 3)
	assert.Equal(t, "remove", pub.stock[2].Reason)
	assert.Equal(t, int64(-2), pub.stock[2].Items[0].Delta)
}

func TestStockChangeValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewInventoryService(newTestStore(t), nil, nil, 30)

	tests := []struct {
		name string
		req  *StockChangeRequest
	}{
		{"no items", &StockChangeRequest{}},
		{"zero quantity", &StockChangeRequest{Items: []StockLine{{Name: "widget", Expiry: "2030-01-01"}}}},
		{"bad expiry", &StockChangeRequest{Items: []StockLine{{Name: "widget", Expiry: "soon", Quantity: 1}}}},
		{"unknown product", &StockChangeRequest{Items: []StockLine{{Name: "ghost", Expiry: "2030-01-01", Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsValidationError(svc.ReceiveStock(ctx, tt.req)))
		})
	}
}

func TestStockOverview(t *testing.T) {
	ctx := context.Background()
	svc := NewInventoryService(newTestStore(t), nil, nil, 30)
	require.NoError(t, svc.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, svc.CreateProduct(ctx, &models.Product{Name: "Apple", Price: price(1)}))
	require.NoError(t, svc.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2099-01-01", Quantity: 3},
		{Name: "Apple", Expiry: "2099-01-01", Quantity: 1},
	}}))

	rows, err := svc.StockOverview(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Apple", rows[0].Name)
	assert.Equal(t, int64(3), rows[1].TotalQuantity)
}

func TestStockOverviewHonoursExcludedNames(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed := NewInventoryService(st, nil, nil, 30)
	for _, name := range []string{"widget", models.TestProductName, "demo"} {
		require.NoError(t, seed.CreateProduct(ctx, &models.Product{Name: name, Price: price(1)}))
		require.NoError(t, seed.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
			{Name: name, Expiry: "2099-01-01", Quantity: 2},
		}}))
	}

	rows, err := seed.StockOverview(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "demo", rows[0].Name)
	assert.Equal(t, "widget", rows[1].Name)

	svc := NewInventoryService(st, nil, nil, 30, valuation.WithExcludedNames("demo", models.TestProductName))
	rows, err = svc.StockOverview(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "widget", rows[0].Name)
}

func TestCreateLoan(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pub := &recordingPublisher{}
	inv := NewInventoryService(st, nil, nil, 30)
	loans := NewLoanService(st, pub, nil, true)

	require.NoError(t, inv.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, inv.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 5},
	}}))

	loan, err := loans.CreateLoan(ctx, &CreateLoanRequest{
		Date:         "2025-01-10",
		Direction:    models.DirectionLoanOut,
		Counterparty: "acme",
		Items:        []LoanItemRequest{{ProductName: "widget", Quantity: 2, Expiry: "2030-01-01"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, loan.ID)

	stock, err := st.GetStock(ctx, "widget", "2030-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock.Quantity)

	require.Len(t, pub.loans, 1)
	assert.True(t, pub.loans[0].StockAdjusted)
	assert.Equal(t, int64(-2), pub.loans[0].Items[0].Delta)

	noAdjust := false
	_, err = loans.CreateLoan(ctx, &CreateLoanRequest{
		Date:         "2025-01-11",
		Direction:    models.DirectionLoanOut,
		Counterparty: "acme",
		AdjustStock:  &noAdjust,
		Items:        []LoanItemRequest{{ProductName: "widget", Quantity: 50, Expiry: "2030-01-01"}},
	})
	require.NoError(t, err)

	_, err = loans.CreateLoan(ctx, &CreateLoanRequest{
		Date:         "2025-01-12",
		Direction:    models.DirectionLoanOut,
		Counterparty: "acme",
		Items:        []LoanItemRequest{{ProductName: "widget", Quantity: 50, Expiry: "2030-01-01"}},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	all, err := loans.ListLoans(ctx, models.LoanFilter{Counterparty: "acme"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateLoanValidation(t *testing.T) {
	ctx := context.Background()
	loans := NewLoanService(newTestStore(t), nil, nil, true)

	tests := []struct {
		name string
		req  *CreateLoanRequest
	}{
		{"no items", &CreateLoanRequest{Date: "2025-01-10", Direction: "loan_in", Counterparty: "acme"}},
		{"bad direction", &CreateLoanRequest{Date: "2025-01-10", Direction: "sideways", Counterparty: "acme",
			Items: []LoanItemRequest{{ProductName: "widget", Quantity: 1, Expiry: "2030-01-01"}}}},
		{"bad date", &CreateLoanRequest{Date: "10/01/2025", Direction: "loan_in", Counterparty: "acme",
			Items: []LoanItemRequest{{ProductName: "widget", Quantity: 1, Expiry: "2030-01-01"}}}},
		{"zero quantity", &CreateLoanRequest{Date: "2025-01-10", Direction: "loan_in", Counterparty: "acme",
			Items: []LoanItemRequest{{ProductName: "widget", Quantity: 0, Expiry: "2030-01-01"}}}},
		{"unknown product", &CreateLoanRequest{Date: "2025-01-10", Direction: "loan_in", Counterparty: "acme",
			Items: []LoanItemRequest{{ProductName: "ghost", Quantity: 1, Expiry: "2030-01-01"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loans.CreateLoan(ctx, tt.req)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}

	_, err := loans.ListLoans(ctx, models.LoanFilter{Direction: "sideways"})
	assert.True(t, IsValidationError(err))
}

func TestDeleteLoan(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pub := &recordingPublisher{}
	loans := NewLoanService(st, pub, nil, false)
	require.NoError(t, NewInventoryService(st, nil, nil, 30).CreateProduct(ctx, &models.Product{Name: "widget"}))

	loan, err := loans.CreateLoan(ctx, &CreateLoanRequest{
		Date:         "2025-01-10",
		Direction:    models.DirectionLoanIn,
		Counterparty: "acme",
		Items:        []LoanItemRequest{{ProductName: "widget", Quantity: 1, Expiry: "2030-01-01"}},
	})
	require.NoError(t, err)

	require.NoError(t, loans.DeleteLoan(ctx, loan.ID))
	_, err = loans.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, loans.DeleteLoan(ctx, loan.ID), store.ErrNotFound)

	require.Len(t, pub.delete, 1)
	assert.Equal(t, loan.ID, pub.delete[0].LoanID)
}

func TestValuationReportUsesCache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cache := &memoryCache{}
	svc := NewValuationService(st, cache, time.Minute, 30)
	inv := NewInventoryService(st, nil, svc, 30)

	require.NoError(t, inv.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, inv.CreateProduct(ctx, &models.Product{Name: "gadget", Price: price(250)}))
	require.NoError(t, inv.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 3},
		{Name: "widget", Expiry: "2030-06-01", Quantity: 2},
		{Name: "gadget", Expiry: "2030-01-01", Quantity: 4},
	}}))

	report, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, time.Minute, cache.ttl)

	cached, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.Same(t, report, cached)
	assert.Equal(t, 1, cache.sets)

	require.NoError(t, svc.Invalidate(ctx))
	assert.Nil(t, cache.report)
}

func TestStockChangesInvalidateCachedReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cache := &memoryCache{}
	svc := NewValuationService(st, cache, time.Minute, 30)
	inv := NewInventoryService(st, nil, svc, 30)

	require.NoError(t, inv.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, inv.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 1},
	}}))

	report, err := svc.Report(ctx)
	require.NoError(t, err)
	require.True(t, report.GrandTotal.Equal(decimal.NewFromInt(100)))

	require.NoError(t, inv.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 9},
	}}))
	assert.Nil(t, cache.report)

	report, err = svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.Equal(decimal.NewFromInt(1000)), report.GrandTotal.String())

	require.NoError(t, inv.UpdateProduct(ctx, &models.Product{Name: "widget", Price: price(7)}))
	report, err = svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.Equal(decimal.NewFromInt(70)), report.GrandTotal.String())

	require.NoError(t, inv.RemoveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 4},
	}}))
	report, err = svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.Equal(decimal.NewFromInt(42)), report.GrandTotal.String())
}

func TestAdjustingLoanInvalidatesCachedReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cache := &memoryCache{}
	svc := NewValuationService(st, cache, time.Minute, 30)
	inv := NewInventoryService(st, nil, svc, 30)
	loans := NewLoanService(st, nil, svc, true)

	require.NoError(t, inv.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, inv.ReceiveStock(ctx, &StockChangeRequest{Items: []StockLine{
		{Name: "widget", Expiry: "2030-01-01", Quantity: 5},
	}}))

	report, err := svc.Report(ctx)
	require.NoError(t, err)
	require.True(t, report.GrandTotal.Equal(decimal.NewFromInt(500)))

	noAdjust := false
	_, err = loans.CreateLoan(ctx, &CreateLoanRequest{
		Date: "2025-01-10", Direction: models.DirectionLoanOut, Counterparty: "acme", AdjustStock: &noAdjust,
		Items: []LoanItemRequest{{ProductName: "widget", Quantity: 1, Expiry: "2030-01-01"}},
	})
	require.NoError(t, err)
	cached, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.Same(t, report, cached)

	_, err = loans.CreateLoan(ctx, &CreateLoanRequest{
		Date: "2025-01-11", Direction: models.DirectionLoanOut, Counterparty: "acme",
		Items: []LoanItemRequest{{ProductName: "widget", Quantity: 2, Expiry: "2030-01-01"}},
	})
	require.NoError(t, err)
	report, err = svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.Equal(decimal.NewFromInt(300)), report.GrandTotal.String())
}

func TestValuationReportFallsBackOnCacheError(t *testing.T) {
	ctx := context.Background()
	cache := &memoryCache{getErr: errors.New("redis down")}
	svc := NewValuationService(newTestStore(t), cache, time.Minute, 30)

	report, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.IsZero())
	assert.Empty(t, report.Anomalies)
}

func TestValuationWithoutCache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateProduct(ctx, &models.Product{Name: "widget", Price: price(100)}))
	require.NoError(t, st.SetStockQuantity(ctx, "widget", "2000-01-01", 2))
	require.NoError(t, st.SetStockQuantity(ctx, "widget", "2099-01-01", 3))

	svc := NewValuationService(st, nil, time.Minute, 30)

	report, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.True(t, report.GrandTotal.Equal(decimal.NewFromInt(500)))

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, summary.ExpiredValue.Equal(decimal.NewFromInt(200)))
	assert.True(t, summary.SellableValue.Equal(decimal.NewFromInt(300)))
	assert.NoError(t, svc.Invalidate(ctx))
}

func TestValidationErrorField(t *testing.T) {
	err := validateStruct(&StockChangeRequest{Items: []StockLine{{Name: "widget", Expiry: "2030-01-01"}}})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Items[0].Quantity", vErr.Field)
	assert.Equal(t, "failed on gt=0", vErr.Message)
}
