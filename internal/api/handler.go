package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/rental"
	"rental-service/internal/service"
	"rental-service/internal/store"
	"rental-service/internal/temporal"
	"rental-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	catalog *service.CatalogService
	pricing *service.PricingService
	rentals *service.RentalService
	checks  []readinessCheck
	logger  *zap.Logger
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(catalog *service.CatalogService, pricing *service.PricingService, rentals *service.RentalService) *Handler {
	return &Handler{
		catalog: catalog,
		pricing: pricing,
		rentals: rentals,
		logger:  util.ComponentLogger("api"),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, readinessCheck{name: name, check: check})
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/templates", h.createTemplate)
		v1.GET("/templates/:id", h.getTemplate)
		v1.GET("/templates/:id/pieces", h.listPieces)
		v1.GET("/templates/:id/pricing", h.listPricingRules)
		v1.GET("/templates/:id/pricing/samples", h.pricingSamples)
		v1.GET("/templates/:id/pricing/suitable", h.suitablePricingRules)

		v1.POST("/recurrences", h.createRecurrence)
		v1.GET("/recurrences", h.listRecurrences)
		v1.POST("/pricelists", h.createPricelist)
		v1.GET("/pricelists/:id", h.getPricelist)

		v1.POST("/pricing-rules", h.createPricingRule)
		v1.PUT("/pricing-rules/:id", h.updatePricingRule)
		v1.DELETE("/pricing-rules/:id", h.deletePricingRule)
		v1.POST("/quotes", h.quote)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/send", h.markSent)
		v1.POST("/orders/:id/confirm", h.confirmOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.GET("/orders/:id/pickup", h.openPickup)
		v1.POST("/orders/:id/pickup", h.applyPickup)
		v1.GET("/orders/:id/return", h.openReturn)
		v1.POST("/orders/:id/return", h.applyReturn)
		v1.POST("/orders/:id/defects", h.registerDefect)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, rc := range h.checks {
		if err := rc.check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", rc.name), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "not ready",
				"dependency": rc.name,
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps service errors to HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var verr *temporal.ValidationError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "Duplicate pricing",
			"details":   err.Error(),
			"conflicts": verr.Conflicts,
		})
		return
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrLineNotInOrder),
		errors.Is(err, service.ErrPieceNotInTemplate):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}

	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// idParam parses the :id path parameter, answering 400 when it is invalid
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid ID", nil)
		return 0, false
	}
	return id, true
}

// optionalID parses an optional positive integer query parameter
func optionalID(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name, nil)
		return nil, false
	}
	return &id, true
}

func (h *Handler) createTemplate(c *gin.Context) {
	var req service.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	tmpl, err := h.catalog.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (h *Handler) getTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	tmpl, err := h.catalog.GetTemplate(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (h *Handler) listPieces(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	pieces, err := h.catalog.ListPieces(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pieces": pieces})
}

func (h *Handler) listPricingRules(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	rules, err := h.pricing.ListRules(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) pricingSamples(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	rules, err := h.pricing.Samples(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) suitablePricingRules(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	variantID, ok := optionalID(c, "variant_id")
	if !ok {
		return
	}
	pricelistID, ok := optionalID(c, "pricelist_id")
	if !ok {
		return
	}
	firstOnly := c.Query("first_only") == "true"

	rules, err := h.pricing.SuitableRules(c.Request.Context(), id, variantID, pricelistID, firstOnly)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

type recurrenceRequest struct {
	Duration decimal.Decimal `json:"duration"`
	Unit     models.Unit     `json:"unit" binding:"required"`
}

func (h *Handler) createRecurrence(c *gin.Context) {
	var req recurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	rec, err := h.catalog.CreateRecurrence(c.Request.Context(), req.Duration, req.Unit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) listRecurrences(c *gin.Context) {
	recs, err := h.catalog.ListRecurrences(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recurrences": recs})
}

type pricelistRequest struct {
	Name     string `json:"name" binding:"required"`
	Currency string `json:"currency"`
}

func (h *Handler) createPricelist(c *gin.Context) {
	var req pricelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	pl, err := h.catalog.CreatePricelist(c.Request.Context(), req.Name, req.Currency)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pl)
}

func (h *Handler) getPricelist(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	pl, err := h.catalog.GetPricelist(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pl)
}

func (h *Handler) createPricingRule(c *gin.Context) {
	var req service.PricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	rule, err := h.pricing.CreateRule(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) updatePricingRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req service.PricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	rule, err := h.pricing.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) deletePricingRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	if err := h.pricing.DeleteRule(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) quote(c *gin.Context) {
	var req service.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	quote, err := h.pricing.Quote(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.rentals.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.rentals.ListOrders(c.Request.Context(), models.RentalStatus(c.Query("status")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	order, err := h.rentals.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) markSent(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	order, err := h.rentals.MarkSent(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type confirmRequest struct {
	Force bool `json:"force"`
}

// confirmOrder answers 200 when the order is confirmed and 409 with the
// missing base products when the caller has to decide
func (h *Handler) confirmOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	result, err := h.rentals.Confirm(c.Request.Context(), id, req.Force)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == rental.OutcomeNeedsUserDecision {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	order, err := h.rentals.Cancel(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) openPickup(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	lines, err := h.rentals.OpenPickup(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func (h *Handler) openReturn(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	lines, err := h.rentals.OpenReturn(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

type movesRequest struct {
	Lines          []models.LineQuantity `json:"lines" binding:"required,min=1,dive"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
}

func (h *Handler) bindMoves(c *gin.Context) (int64, *movesRequest, bool) {
	id, ok := idParam(c)
	if !ok {
		return 0, nil, false
	}

	var req movesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return 0, nil, false
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	return id, &req, true
}

func (h *Handler) applyPickup(c *gin.Context) {
	id, req, ok := h.bindMoves(c)
	if !ok {
		return
	}

	order, err := h.rentals.ApplyPickup(c.Request.Context(), id, req.Lines, req.IdempotencyKey)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) applyReturn(c *gin.Context) {
	id, req, ok := h.bindMoves(c)
	if !ok {
		return
	}

	order, err := h.rentals.ApplyReturn(c.Request.Context(), id, req.Lines, req.IdempotencyKey)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type defectRequest struct {
	OrderLineID int64 `json:"order_line_id" binding:"required"`
	PieceID     int64 `json:"product_piece_id" binding:"required"`
	Qty         int   `json:"qty" binding:"required,min=1"`
}

func (h *Handler) registerDefect(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req defectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	defect, err := h.rentals.RegisterDefect(c.Request.Context(), id, req.OrderLineID, req.PieceID, req.Qty)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, defect)
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
