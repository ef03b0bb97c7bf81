package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/core/service"
	"github.com/rl1809/topup-pins/internal/metrics"
)

type PurchaseService interface {
	Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
	History(ctx context.Context, userID string) ([]domain.PurchaseRecord, error)
}

type AvailabilityChecker interface {
	CheckCombinedAvailability(ctx context.Context, packageID int) (domain.Availability, error)
}

type CatalogService interface {
	List(ctx context.Context, activeOnly bool) ([]domain.Package, error)
	UpdatePrice(ctx context.Context, id int, price decimal.Decimal) (domain.Package, error)
}

type InventoryService interface {
	Stock(ctx context.Context) (map[int]int, error)
	AddPins(ctx context.Context, packageID int, codes []string) (int, error)
	AddPinsText(ctx context.Context, packageID int, text string) (int, error)
	RemoveDuplicates(ctx context.Context, policy domain.DedupePolicy) (int64, error)
}

type WalletService interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Wallet, error)
	Summary(ctx context.Context, userID string) (service.WalletSummary, error)
}

// Pinger reports whether a backing store answers; /health uses it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// VendorStatus is optional; a nil value reports the vendor as disabled.
type VendorStatus interface {
	Ping(ctx context.Context) error
	Balance(ctx context.Context) (string, error)
}

type HTTPHandler struct {
	purchases    PurchaseService
	availability AvailabilityChecker
	catalog      CatalogService
	inventory    InventoryService
	wallets      WalletService
	vendor       VendorStatus
	cache        Pinger
	adminToken   string
	logger       *zap.Logger
}

type HTTPConfig struct {
	// AdminToken guards the admin routes when set. Config only allows it
	// empty in dev.
	AdminToken string
}

func NewHTTPHandler(purchases PurchaseService, availability AvailabilityChecker, catalog CatalogService, inventory InventoryService, wallets WalletService, vendor VendorStatus, cache Pinger, cfg HTTPConfig, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		purchases:    purchases,
		availability: availability,
		catalog:      catalog,
		inventory:    inventory,
		wallets:      wallets,
		vendor:       vendor,
		cache:        cache,
		adminToken:   cfg.AdminToken,
		logger:       logger,
	}
}

type PurchaseHTTPRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	PackageID int    `json:"package_id"`
	Quantity  int    `json:"quantity"`
}

type PurchaseHTTPResponse struct {
	Success       bool                  `json:"success"`
	Message       string                `json:"message"`
	Status        string                `json:"status,omitempty"`
	ErrorType     string                `json:"error_type,omitempty"`
	RequestID     string                `json:"request_id,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	ControlNumber string                `json:"control_number,omitempty"`
	Amount        string                `json:"amount,omitempty"`
	Requested     int                   `json:"requested,omitempty"`
	Obtained      int                   `json:"obtained"`
	Pins          []domain.AllocatedPin `json:"pins"`
	Warning       string                `json:"warning,omitempty"`
}

// Router builds the gin engine with every route registered.
func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestMetrics())

	r.GET("/health", h.HealthCheck)
	r.GET("/health/vendor", h.VendorHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/packages", h.ListPackages)
	api.GET("/packages/:id/availability", h.Availability)
	api.POST("/purchase", h.Purchase)
	api.GET("/users/:id/purchases", h.PurchaseHistory)
	api.GET("/users/:id/wallet", h.Wallet)

	admin := api.Group("/admin", h.requireAdmin())
	admin.GET("/stock", h.Stock)
	admin.POST("/packages/:id/pins", h.AddPins)
	admin.PUT("/packages/:id/price", h.UpdatePrice)
	admin.POST("/pins/dedupe", h.RemoveDuplicates)
	admin.POST("/users/:id/credit", h.Credit)

	return r
}

func (h *HTTPHandler) Purchase(c *gin.Context) {
	var req PurchaseHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, PurchaseHTTPResponse{Message: "invalid request body", Pins: []domain.AllocatedPin{}})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	res, err := h.purchases.Purchase(c.Request.Context(), service.PurchaseRequest{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		PackageID: req.PackageID,
		Quantity:  req.Quantity,
	})

	resp := PurchaseHTTPResponse{RequestID: req.RequestID, Pins: []domain.AllocatedPin{}}
	if res != nil {
		alloc := res.Allocation
		resp.Status = string(alloc.Status)
		resp.ErrorType = string(alloc.Kind)
		resp.Message = alloc.Message
		resp.Requested = alloc.Requested
		resp.Obtained = alloc.Obtained()
		resp.Pins = alloc.Pins
		if res.Record != nil {
			resp.TransactionID = res.Record.TransactionID
			resp.ControlNumber = res.Record.ControlNumber
			resp.Amount = res.Record.Amount.StringFixed(2)
		}
	}

	if err != nil {
		// Pins were allocated but the record failed; the buyer still gets them.
		if res != nil && res.Allocation.Obtained() > 0 {
			h.logger.Error("purchase delivered without record", zap.String("request_id", req.RequestID), zap.Error(err))
			resp.Success = true
			resp.Warning = "purchase not recorded"
			c.JSON(http.StatusOK, resp)
			return
		}

		status, message := purchaseErrorStatus(err, res)
		if resp.Message == "" {
			resp.Message = message
		}
		c.JSON(status, resp)
		return
	}

	resp.Success = true
	if resp.Message == "" {
		resp.Message = "purchase completed"
	}
	c.JSON(http.StatusOK, resp)
}

func purchaseErrorStatus(err error, res *service.PurchaseResult) (int, string) {
	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, domain.ErrPackageNotFound):
		return http.StatusNotFound, "package not found"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "missing or invalid fields"
	case errors.Is(err, service.ErrAllocationFailed) && res != nil:
		switch res.Allocation.Kind {
		case domain.KindValidation:
			return http.StatusBadRequest, "invalid request"
		case domain.KindNoStock, domain.KindInsufficientStock, domain.KindNoStockNoAPI:
			return http.StatusGone, "sold out"
		case domain.KindExternalAPIError:
			return http.StatusBadGateway, "vendor error"
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *HTTPHandler) PurchaseHistory(c *gin.Context) {
	records, err := h.purchases.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "load purchase history", err)
		return
	}
	if records == nil {
		records = []domain.PurchaseRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"purchases": records})
}

func (h *HTTPHandler) Wallet(c *gin.Context) {
	sum, err := h.wallets.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "load wallet", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *HTTPHandler) Credit(c *gin.Context) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	w, err := h.wallets.Credit(c.Request.Context(), c.Param("id"), req.Amount)
	switch {
	case errors.Is(err, service.ErrInvalidCredit), errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.internalError(c, "credit wallet", err)
	default:
		c.JSON(http.StatusOK, w)
	}
}

func (h *HTTPHandler) ListPackages(c *gin.Context) {
	pkgs, err := h.catalog.List(c.Request.Context(), true)
	if err != nil {
		h.internalError(c, "list packages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": pkgs})
}

func (h *HTTPHandler) Availability(c *gin.Context) {
	id, ok := packageID(c)
	if !ok {
		return
	}

	av, err := h.availability.CheckCombinedAvailability(c.Request.Context(), id)
	if errors.Is(err, domain.ErrPackageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
		return
	}
	if err != nil {
		h.internalError(c, "check availability", err)
		return
	}
	c.JSON(http.StatusOK, av)
}

func (h *HTTPHandler) Stock(c *gin.Context) {
	stock, err := h.inventory.Stock(c.Request.Context())
	if err != nil {
		h.internalError(c, "load stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": stock})
}

func (h *HTTPHandler) AddPins(c *gin.Context) {
	id, ok := packageID(c)
	if !ok {
		return
	}

	var req struct {
		Pins []string `json:"pins"`
		Text string   `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (len(req.Pins) == 0 && req.Text == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pins or text required"})
		return
	}

	var (
		n   int
		err error
	)
	if len(req.Pins) > 0 {
		n, err = h.inventory.AddPins(c.Request.Context(), id, req.Pins)
	} else {
		n, err = h.inventory.AddPinsText(c.Request.Context(), id, req.Text)
	}
	if errors.Is(err, domain.ErrPackageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
		return
	}
	if err != nil {
		h.internalError(c, "add pins", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": n})
}

func (h *HTTPHandler) UpdatePrice(c *gin.Context) {
	id, ok := packageID(c)
	if !ok {
		return
	}

	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}

	pkg, err := h.catalog.UpdatePrice(c.Request.Context(), id, req.Price)
	switch {
	case errors.Is(err, service.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPackageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
	case err != nil:
		h.internalError(c, "update price", err)
	default:
		c.JSON(http.StatusOK, pkg)
	}
}

func (h *HTTPHandler) RemoveDuplicates(c *gin.Context) {
	var req struct {
		Policy domain.DedupePolicy `json:"policy"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	n, err := h.inventory.RemoveDuplicates(c.Request.Context(), req.Policy)
	if errors.Is(err, service.ErrInvalidPolicy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "remove duplicates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	if h.cache != nil {
		if err := h.cache.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("redis health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) VendorHealth(c *gin.Context) {
	if h.vendor == nil {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}

	if err := h.vendor.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("vendor health check failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"status": "unreachable", "error": err.Error()})
		return
	}

	resp := gin.H{"status": "ok"}
	if balance, err := h.vendor.Balance(c.Request.Context()); err == nil {
		resp["balance"] = balance
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminToken != "" && c.GetHeader("X-Admin-Token") != h.adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *HTTPHandler) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (h *HTTPHandler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func packageID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid package id"})
		return 0, false
	}
	return id, true
}
