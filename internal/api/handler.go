package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"comercio-service/internal/models"
	"comercio-service/internal/service"
	"comercio-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	carts     *service.CartService
	orders    *service.OrderService
	payments  *service.PaymentService
	returns   *service.ReturnService
	inventory *service.InventoryService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	orders *service.OrderService,
	payments *service.PaymentService,
	returns *service.ReturnService,
	inventory *service.InventoryService,
) *Handler {
	return &Handler{
		carts:     carts,
		orders:    orders,
		payments:  payments,
		returns:   returns,
		inventory: inventory,
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

	// The gateway signs its own deliveries; user auth does not apply here.
	router.POST("/webhooks/payments", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	v1.Use(requireUser())
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:productID", h.updateCartItem)
		v1.DELETE("/cart/items/:productID", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.checkout)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/tracking", h.getTracking)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.POST("/orders/:id/payment", h.startPayment)
		v1.GET("/orders/:id/payment", h.getPayment)
		v1.GET("/orders/:id/receipt", h.getReceipt)

		v1.POST("/orders/:id/returns", h.requestReturn)
		v1.GET("/orders/:id/returns", h.listReturns)
	}

	admin := router.Group("/api/v1/admin")
	admin.Use(requireAdmin())
	{
		admin.POST("/orders/:id/confirm", h.confirmOrder)
		admin.PUT("/orders/:id/status", h.setOrderStatus)
		admin.DELETE("/orders/:id/lines/:lineID", h.removeOrderLine)

		admin.POST("/returns/:id/review", h.reviewReturn)
		admin.POST("/returns/:id/approve", h.approveReturn)
		admin.POST("/returns/:id/reject", h.rejectReturn)
		admin.POST("/returns/:id/refund", h.refundReturn)

		admin.GET("/inventory/alerts", h.lowStockAlerts)
		admin.PUT("/inventory/:productID", h.adjustStock)
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

// getCart returns the user's cart, creating it on first access
func (h *Handler) getCart(c *gin.Context) {
	cart, lines, err := h.carts.Get(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart, "items": lines})
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	line, err := h.carts.AddItem(c.Request.Context(), userID(c), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.carts.UpdateQuantity(c.Request.Context(), userID(c), productID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}
	if err := h.carts.RemoveItem(c.Request.Context(), userID(c), productID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), userID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkout converts the cart into an order
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.Checkout(c.Request.Context(), userID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListUserOrders(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, lines, ok := h.authorizeOrder(c, orderID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": lines})
}

func (h *Handler) getTracking(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}
	history, err := h.orders.History(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": history})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}

	var req cancelOrderRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.orders.Cancel(c.Request.Context(), orderID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) confirmOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.orders.Confirm(c.Request.Context(), orderID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Comment string `json:"comment"`
}

func (h *Handler) setOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orders.SetStatus(c.Request.Context(), orderID, req.Status, req.Comment); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeOrderLine(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(c, "lineID")
	if !ok {
		return
	}
	if err := h.orders.RemoveLine(c.Request.Context(), orderID, lineID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// startPayment opens (or reuses) a gateway checkout session for the order
func (h *Handler) startPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}
	resp, err := h.payments.StartCheckout(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}
	payment, err := h.payments.GetPayment(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) getReceipt(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}
	receipt, err := h.payments.GetReceipt(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// paymentWebhook receives signed gateway deliveries. A bad signature is 401;
// everything applied or deliberately skipped is 200 so the gateway stops
// retrying.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	signature := c.GetHeader("X-Gateway-Signature")

	err = h.payments.HandleWebhook(c.Request.Context(), payload, signature)
	if errors.Is(err, service.ErrInvalidSignature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type requestReturnRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

func (h *Handler) requestReturn(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req requestReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ret, err := h.returns.Request(c.Request.Context(), userID(c), orderID, req.ProductID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ret)
}

func (h *Handler) listReturns(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorizeOrder(c, orderID); !ok {
		return
	}
	returns, err := h.returns.ListOrderReturns(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"returns": returns})
}

func (h *Handler) reviewReturn(c *gin.Context) {
	returnID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.returns.StartReview(c.Request.Context(), returnID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) approveReturn(c *gin.Context) {
	returnID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.returns.Approve(c.Request.Context(), returnID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type rejectReturnRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) rejectReturn(c *gin.Context) {
	returnID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req rejectReturnRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.returns.Reject(c.Request.Context(), returnID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// refundReturn retries the refund of an approved return
func (h *Handler) refundReturn(c *gin.Context) {
	returnID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.returns.ProcessRefund(c.Request.Context(), returnID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) lowStockAlerts(c *gin.Context) {
	alerts, err := h.inventory.LowStockAlerts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

type adjustStockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) adjustStock(c *gin.Context) {
	productID, ok := pathID(c, "productID")
	if !ok {
		return
	}

	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.inventory.AdjustStock(c.Request.Context(), productID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// authorizeOrder loads an order and enforces the owner-or-admin rule for the
// /orders/:id subtree. Orders belonging to someone else read as not found so
// ids cannot be probed. When ok is false a response has already been written.
func (h *Handler) authorizeOrder(c *gin.Context, orderID int64) (*models.Order, []models.OrderLine, bool) {
	order, lines, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	if order.UserID != userID(c) && !isAdmin(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return nil, nil, false
	}
	return order, lines, true
}

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrWrongState),
		errors.Is(err, service.ErrRefundPrecondition),
		service.IsInsufficientStock(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGateway):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}

func userID(c *gin.Context) int64 {
	id, _ := c.Get("user_id")
	uid, _ := id.(int64)
	return uid
}

func isAdmin(c *gin.Context) bool {
	return c.GetHeader("X-Admin") == "true"
}

// requireUser resolves the calling user from the X-User-ID header set by the
// auth proxy in front of this service.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || uid <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid X-User-ID"})
			return
		}
		c.Set("user_id", uid)
		c.Next()
	}
}

// requireAdmin guards operational endpoints
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin") != "true" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
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

// pathID parses a numeric path parameter, writing a 400 itself on failure
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
