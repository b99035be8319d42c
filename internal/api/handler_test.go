package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stock-ledger/config"
	"stock-ledger/internal/service"
	"stock-ledger/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downStore struct{}

func (downStore) Ping(context.Context) error {
	return &store.ConnectionError{Op: "ping", Err: errors.New("connection refused")}
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	st, err := store.NewStore(ctx, config.Credentials{URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	valuations := service.NewValuationService(st, nil, time.Minute, 30)
	h := NewHandler(
		service.NewInventoryService(st, nil, valuations, 30),
		service.NewLoanService(st, nil, valuations, true),
		valuations,
		st,
	)
	router := gin.New()
	h.SetupRoutes(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	router := setupRouter(t)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", nil).Code)
}

func TestReadyWhenStoreDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(nil, nil, nil, downStore{}).SetupRoutes(router)

	w := do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestValuationFlow(t *testing.T) {
	router := setupRouter(t)

	for _, p := range []map[string]interface{}{
		{"name": "widget", "price": 100},
		{"name": "gadget", "price": 250},
	} {
		w := do(t, router, http.MethodPost, "/api/v1/products", p)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := do(t, router, http.MethodPost, "/api/v1/stock/receive", map[string]interface{}{
		"items": []map[string]interface{}{
			{"name": "widget", "expiry": "2030-01-01", "quantity": 3},
			{"name": "widget", "expiry": "2030-06-01", "quantity": 2},
			{"name": "gadget", "expiry": "2030-01-01", "quantity": 4},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/valuation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "1500", body["grand_total"])
	assert.Empty(t, body["anomalies"])

	w = do(t, router, http.MethodGet, "/api/v1/stock/widget/expiries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["expiries"], 2)

	w = do(t, router, http.MethodGet, "/api/v1/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 2)

	w = do(t, router, http.MethodGet, "/api/v1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1500", decode(t, w)["sellable_value"])
}

func TestStockErrors(t *testing.T) {
	router := setupRouter(t)
	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/v1/products", map[string]interface{}{"name": "widget", "price": 1}).Code)

	w := do(t, router, http.MethodPost, "/api/v1/stock/remove", map[string]interface{}{
		"items": []map[string]interface{}{{"name": "widget", "expiry": "2030-01-01", "quantity": 1}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/stock/receive", map[string]interface{}{
		"items": []map[string]interface{}{{"name": "widget", "expiry": "2030-01-01", "quantity": -1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/stock/ghost/expiries", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/receive", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductEndpoints(t *testing.T) {
	router := setupRouter(t)

	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/v1/products", map[string]interface{}{"name": "widget", "price": 1}).Code)
	assert.Equal(t, http.StatusConflict,
		do(t, router, http.MethodPost, "/api/v1/products", map[string]interface{}{"name": "widget"}).Code)

	w := do(t, router, http.MethodPut, "/api/v1/products/widget", map[string]interface{}{"price": 5, "type": "tool"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, "/api/v1/products/widget/rename", map[string]interface{}{"new_name": "gizmo"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/products/gizmo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["price"])

	w = do(t, router, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/v1/products/gizmo", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/products/gizmo", nil).Code)
}

func TestLoanEndpoints(t *testing.T) {
	router := setupRouter(t)
	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/v1/products", map[string]interface{}{"name": "widget", "price": 1}).Code)

	w := do(t, router, http.MethodPost, "/api/v1/loans", map[string]interface{}{
		"date":         "2025-01-10",
		"direction":    "loan_in",
		"counterparty": "acme",
		"items":        []map[string]interface{}{{"product_name": "widget", "quantity": 4, "expiry": "2030-01-01"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)

	w = do(t, router, http.MethodGet, "/api/v1/loans/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = do(t, router, http.MethodGet, "/api/v1/loans?counterparty=acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	assert.Equal(t, http.StatusBadRequest,
		do(t, router, http.MethodGet, "/api/v1/loans?direction=sideways", nil).Code)

	assert.Equal(t, http.StatusConflict,
		do(t, router, http.MethodDelete, "/api/v1/products/widget", nil).Code)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/v1/loans/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/loans/"+id, nil).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&service.ValidationError{Message: "bad"}))
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(store.ErrInsufficientStock))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&store.ConnectionError{Op: "ping", Err: errors.New("down")}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
