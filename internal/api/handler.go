package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/service"
	"stock-ledger/internal/store"
	"stock-ledger/internal/util"
	"stock-ledger/internal/valuation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	inventory *service.InventoryService
	loans     *service.LoanService
	valuation *service.ValuationService
	store     Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	inventory *service.InventoryService,
	loans *service.LoanService,
	valuation *service.ValuationService,
	store Pinger,
) *Handler {
	return &Handler{
		inventory: inventory,
		loans:     loans,
		valuation: valuation,
		store:     store,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/valuation", h.getValuation)
		v1.GET("/summary", h.getSummary)

		v1.GET("/stock", h.getStockOverview)
		v1.GET("/stock/:name/expiries", h.getExpiries)
		v1.POST("/stock/receive", h.receiveStock)
		v1.POST("/stock/remove", h.removeStock)

		v1.GET("/products", h.listProducts)
		v1.POST("/products", h.createProduct)
		v1.GET("/products/:name", h.getProduct)
		v1.PUT("/products/:name", h.updateProduct)
		v1.POST("/products/:name/rename", h.renameProduct)
		v1.DELETE("/products/:name", h.deleteProduct)

		v1.GET("/loans", h.listLoans)
		v1.POST("/loans", h.createLoan)
		v1.GET("/loans/:id", h.getLoan)
		v1.DELETE("/loans/:id", h.deleteLoan)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only while the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getValuation returns the inventory valuation; ?refresh=true bypasses the cache
func (h *Handler) getValuation(c *gin.Context) {
	ctx := c.Request.Context()
	refresh, _ := strconv.ParseBool(c.Query("refresh"))

	var (
		report *valuation.Report
		err    error
	)
	if refresh {
		report, err = h.valuation.Refresh(ctx)
	} else {
		report, err = h.valuation.Report(ctx)
	}
	if err != nil {
		writeError(c, "Failed to compute valuation", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) getSummary(c *gin.Context) {
	summary, err := h.valuation.Summary(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to compute summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getStockOverview(c *gin.Context) {
	rows, err := h.inventory.StockOverview(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to read stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

func (h *Handler) getExpiries(c *gin.Context) {
	buckets, err := h.inventory.ExpiryHistogram(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, "Failed to read stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "expiries": buckets})
}

func (h *Handler) receiveStock(c *gin.Context) {
	var req service.StockChangeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.inventory.ReceiveStock(c.Request.Context(), &req); err != nil {
		writeError(c, "Failed to receive stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received", "batches": len(req.Items)})
}

func (h *Handler) removeStock(c *gin.Context) {
	var req service.StockChangeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.inventory.RemoveStock(c.Request.Context(), &req); err != nil {
		writeError(c, "Failed to remove stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "batches": len(req.Items)})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.inventory.ListProducts(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to list products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": products})
}

func (h *Handler) createProduct(c *gin.Context) {
	var p models.Product
	if !bindJSON(c, &p) {
		return
	}
	if err := h.inventory.CreateProduct(c.Request.Context(), &p); err != nil {
		writeError(c, "Failed to create product", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.inventory.GetProduct(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, "Product not found", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var p models.Product
	if !bindJSON(c, &p) {
		return
	}
	p.Name = c.Param("name")
	if err := h.inventory.UpdateProduct(c.Request.Context(), &p); err != nil {
		writeError(c, "Failed to update product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) renameProduct(c *gin.Context) {
	var req service.RenameProductRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.inventory.RenameProduct(c.Request.Context(), c.Param("name"), &req); err != nil {
		writeError(c, "Failed to rename product", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.NewName, "old_name": c.Param("name")})
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.inventory.DeleteProduct(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, "Failed to delete product", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listLoans(c *gin.Context) {
	filter := models.LoanFilter{
		Counterparty: c.Query("counterparty"),
		Direction:    c.Query("direction"),
		From:         c.Query("from"),
		To:           c.Query("to"),
	}
	loans, err := h.loans.ListLoans(c.Request.Context(), filter)
	if err != nil {
		writeError(c, "Failed to list loans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": loans})
}

func (h *Handler) createLoan(c *gin.Context) {
	var req service.CreateLoanRequest
	if !bindJSON(c, &req) {
		return
	}
	loan, err := h.loans.CreateLoan(c.Request.Context(), &req)
	if err != nil {
		writeError(c, "Failed to create loan", err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

func (h *Handler) getLoan(c *gin.Context) {
	loan, err := h.loans.GetLoan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "Loan not found", err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func (h *Handler) deleteLoan(c *gin.Context) {
	if err := h.loans.DeleteLoan(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, "Failed to delete loan", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// statusFor maps service and store errors to HTTP status codes
func statusFor(err error) int {
	var connErr *store.ConnectionError
	switch {
	case service.IsValidationError(err), errors.Is(err, store.ErrCheck):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrForeignKey),
		errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.GetLogger().Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// loggingMiddleware writes one structured line per request
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		util.GetLogger().Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
