package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers. The HTTP layer does no business logic:
// it binds requests, invokes the engine and maps error kinds to statuses.
// Authentication and tenant resolution are assumed to have happened
// upstream.
type Handler struct {
	coordinator    *service.FulfillmentCoordinator
	walletService  *service.WalletService
	allocation     *service.AllocationService
	redis          *redisclient.Client
	eventPublisher *broker.EventPublisher
	idempotencyTTL time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(
	coordinator *service.FulfillmentCoordinator,
	walletService *service.WalletService,
	allocation *service.AllocationService,
	redis *redisclient.Client,
	eventPublisher *broker.EventPublisher,
) *Handler {
	return &Handler{
		coordinator:    coordinator,
		walletService:  walletService,
		allocation:     allocation,
		redis:          redis,
		eventPublisher: eventPublisher,
		idempotencyTTL: 24 * time.Hour,
	}
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
		v1.POST("/fulfillments", h.fulfillOrder)

		v1.GET("/tenants/:tenant/customers/:customer/wallet", h.getBalance)
		v1.GET("/tenants/:tenant/customers/:customer/wallet/transactions", h.listTransactions)
		v1.POST("/tenants/:tenant/customers/:customer/wallet/deposits", h.addDeposit)
		v1.PUT("/tenants/:tenant/customers/:customer/wallet/credit-limit", h.setCreditLimit)
		v1.POST("/tenants/:tenant/customers/:customer/wallet/credit-payments", h.recordCreditPayment)

		v1.GET("/products/:product/stock", h.getStock)
		v1.POST("/products/:product/keys", h.importKeys)
		v1.PUT("/products/:product/pool-config", h.setPoolConfig)
		v1.DELETE("/keys/:id", h.removeKey)
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
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// fulfillOrder handles the single mutation entry point of the engine.
// Requests may carry an Idempotency-Key header; retried requests with the
// same key are rejected instead of double-charging.
func (h *Handler) fulfillOrder(c *gin.Context) {
	var req service.FulfillOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")
	if idempotencyKey != "" && h.redis != nil {
		claimed, err := h.redis.ClaimIdempotencyKey(c.Request.Context(), idempotencyKey, h.idempotencyTTL)
		if err == nil && !claimed {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Duplicate request",
				"kind":  "duplicate_request",
			})
			return
		}
	}

	if req.OrderID == "" {
		req.OrderID = uuid.New().String()
	}

	result, err := h.coordinator.FulfillOrder(c.Request.Context(), &req)
	if err != nil {
		// Transient failures may be retried with the same key.
		if idempotencyKey != "" && h.redis != nil && models.IsRetryable(err) {
			_ = h.redis.ReleaseIdempotencyKey(c.Request.Context(), idempotencyKey)
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

type walletResponse struct {
	*models.Wallet
	AvailableCredit int64 `json:"available_credit"`
	TotalAvailable  int64 `json:"total_available"`
	IsOverlimit     bool  `json:"is_overlimit"`
}

// getBalance returns the wallet projection, creating the wallet on first
// access.
func (h *Handler) getBalance(c *gin.Context) {
	wallet, err := h.walletService.GetBalance(c.Request.Context(), c.Param("tenant"), c.Param("customer"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletResponse{
		Wallet:          wallet,
		AvailableCredit: wallet.AvailableCredit(),
		TotalAvailable:  wallet.TotalAvailable(),
		IsOverlimit:     wallet.IsOverlimit(),
	})
}

// listTransactions returns the wallet ledger, oldest first.
func (h *Handler) listTransactions(c *gin.Context) {
	txs, err := h.walletService.ListTransactions(c.Request.Context(), c.Param("tenant"), c.Param("customer"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

type amountRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
	Actor       string `json:"actor" binding:"required"`
}

// addDeposit handles admin deposits
func (h *Handler) addDeposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	tx, err := h.walletService.AddDeposit(c.Request.Context(),
		c.Param("tenant"), c.Param("customer"), req.Amount, req.Description, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

type creditLimitRequest struct {
	Limit *int64 `json:"limit" binding:"required"`
	Actor string `json:"actor" binding:"required"`
}

// setCreditLimit handles admin credit limit changes
func (h *Handler) setCreditLimit(c *gin.Context) {
	var req creditLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	tx, err := h.walletService.SetCreditLimit(c.Request.Context(),
		c.Param("tenant"), c.Param("customer"), *req.Limit, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// recordCreditPayment handles admin credit payments
func (h *Handler) recordCreditPayment(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	tx, err := h.walletService.RecordCreditPayment(c.Request.Context(),
		c.Param("tenant"), c.Param("customer"), req.Amount, req.Description, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// getStock returns the stock projection, preferring the Redis snapshot and
// falling back to the database.
func (h *Handler) getStock(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	if h.redis != nil {
		total, available, consumed, ok, err := h.redis.GetStock(c.Request.Context(), productID)
		if err == nil && ok {
			c.JSON(http.StatusOK, models.Stock{
				ProductID: productID,
				Total:     total,
				Available: available,
				Consumed:  consumed,
			})
			return
		}
	}

	stock, err := h.allocation.GetStock(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

type importKeysRequest struct {
	Keys            []string `json:"keys" binding:"required,min=1"`
	AllowDuplicates bool     `json:"allow_duplicates"`
}

// importKeys handles admin bulk key imports
func (h *Handler) importKeys(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req importKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.allocation.ImportKeys(c.Request.Context(), productID, req.Keys, req.AllowDuplicates)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.eventPublisher != nil {
		event := &models.KeysImportedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeKeysImported,
				Timestamp: time.Now(),
			},
			ProductID:  productID,
			Added:      len(result.Added),
			Duplicates: len(result.Duplicates),
		}
		if err := h.eventPublisher.PublishKeysImported(c.Request.Context(), event); err != nil {
			util.GetLogger().Error("Failed to publish KeysImported event", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, result)
}

type poolConfigRequest struct {
	AllowDuplicateKeys *bool `json:"allow_duplicate_keys" binding:"required"`
}

// setPoolConfig handles admin duplicate-policy changes
func (h *Handler) setPoolConfig(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req poolConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.allocation.SetPoolConfig(c.Request.Context(), productID, *req.AllowDuplicateKeys); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// removeKey handles admin removal of an unallocated key
func (h *Handler) removeKey(c *gin.Context) {
	keyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	if err := h.allocation.RemoveKey(c.Request.Context(), keyID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps engine error kinds onto HTTP statuses. Business-rule
// failures carry a machine-readable kind with enough detail for a clear
// user message; transient storage failures are 503 so callers retry
// instead of reading them as business outcomes.
func respondError(c *gin.Context, err error) {
	var fundsErr *models.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "Insufficient balance",
			"kind":      "insufficient_funds",
			"available": fundsErr.Available,
			"requested": fundsErr.Requested,
		})
		return
	}

	var stockErr *models.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "Product out of stock",
			"kind":       "insufficient_stock",
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Invalid amount",
			"kind":  "invalid_amount",
		})
	case errors.Is(err, models.ErrKeyAlreadyAllocated):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Key already allocated",
			"kind":  "key_already_allocated",
		})
	case errors.Is(err, models.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Key not found",
			"kind":  "key_not_found",
		})
	case models.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Storage temporarily unavailable",
			"kind":  "storage_unavailable",
			"retry": true,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
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
