package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"comercio-service/internal/models"
	"comercio-service/internal/store"
	"comercio-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const trackingPrefix = "ORD-"

// checkoutMaxAttempts bounds retries when two checkouts race for the same
// tracking number; the unique index arbitrates and the loser re-allocates.
const checkoutMaxAttempts = 3

// OrderService converts carts into immutably priced orders and drives the
// order state machine. Checkout runs as one all-or-nothing transaction.
type OrderService struct {
	tx        TxRunner
	orders    OrderStore
	carts     CartStore
	catalog   CatalogStore
	payments  PaymentStore
	inventory *InventoryService
	publisher EventPublisher
	notifier  Notifier
	cache     SessionCache
	taxRate   decimal.Decimal
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	tx TxRunner,
	orders OrderStore,
	carts CartStore,
	catalog CatalogStore,
	payments PaymentStore,
	inventory *InventoryService,
	publisher EventPublisher,
	notifier Notifier,
	cache SessionCache,
	taxRate decimal.Decimal,
) *OrderService {
	return &OrderService{
		tx:        tx,
		orders:    orders,
		carts:     carts,
		catalog:   catalog,
		payments:  payments,
		inventory: inventory,
		publisher: publisher,
		notifier:  notifier,
		cache:     cache,
		taxRate:   taxRate,
		logger:    util.GetLogger(),
	}
}

// CheckoutRequest carries the address data for a new order
type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address" binding:"required"`
	BillingAddress  string `json:"billing_address,omitempty"`
}

// Checkout converts the user's cart into a priced order: it freezes unit
// prices, decrements stock, clears the cart and opens the tracking ledger,
// all in one transaction.
func (s *OrderService) Checkout(ctx context.Context, userID int64, req *CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	cart, err := s.carts.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}

	lines, err := s.carts.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart lines: %w", err)
	}
	if len(lines) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	// Pre-flight availability check; the transaction re-checks under a row
	// lock before decrementing.
	for _, line := range lines {
		inv, err := s.inventory.GetInventory(ctx, line.ProductID)
		if err != nil {
			util.CheckoutsFailedTotal.WithLabelValues("invalid_items").Inc()
			return nil, err
		}
		if inv.StockActual < line.Quantity {
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, &models.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: inv.StockActual,
			}
		}
	}

	subtotal := subtotalFor(lines, products)
	shipping, err := s.shippingCostFor(ctx, lines, products)
	if err != nil {
		return nil, err
	}
	impuestos, total := applyTax(subtotal, shipping, s.taxRate)

	order := &models.Order{
		UserID:            userID,
		Status:            models.OrderStatusPending,
		SubtotalProductos: subtotal,
		CostoEnvio:        shipping,
		MontoImpuestos:    impuestos,
		MontoTotal:        total,
		ShippingAddress:   req.ShippingAddress,
		BillingAddress:    req.BillingAddress,
	}

	for attempt := 1; ; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			return s.checkoutTx(ctx, tx, cart, order, lines, products)
		})
		if err == nil {
			break
		}
		if store.IsUniqueViolation(err) && attempt < checkoutMaxAttempts {
			s.logger.Warn("Tracking number collision, retrying checkout",
				zap.String("tracking_number", order.TrackingNumber),
				zap.Int("attempt", attempt))
			continue
		}
		if IsInsufficientStock(err) {
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.CheckoutsFailedTotal.WithLabelValues("tx_error").Inc()
		}
		return nil, err
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("tracking_number", order.TrackingNumber),
		zap.String("monto_total", order.MontoTotal.String()))

	s.publishOrderCreated(ctx, order, lines, products)

	if err := s.notifier.Notify(ctx, userID, "order_created", order.TrackingNumber); err != nil {
		s.logger.Error("Failed to send order notification", zap.Error(err))
	}

	return order, nil
}

// checkoutTx is the atomic body of Checkout. Any error rolls back the order,
// its lines and every stock decrement.
func (s *OrderService) checkoutTx(ctx context.Context, tx *sqlx.Tx, cart *models.Cart, order *models.Order, lines []models.CartLine, products map[int64]*models.Product) error {
	last, err := s.orders.GetLastOrderTx(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to read last order: %w", err)
	}
	order.TrackingNumber = nextTrackingNumber(last)

	if err := s.orders.CreateOrderTx(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for _, line := range lines {
		product := products[line.ProductID]
		orderLine := &models.OrderLine{
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: product.OriginalPrice,
		}
		if err := s.orders.CreateOrderLineTx(ctx, tx, orderLine); err != nil {
			return fmt.Errorf("failed to create order line: %w", err)
		}
		if err := s.inventory.Reduce(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}

	if err := s.carts.ClearCartTx(ctx, tx, cart.ID); err != nil {
		return err
	}

	return s.orders.AppendTrackingEntryTx(ctx, tx, &models.TrackingEntry{
		OrderID:        order.ID,
		PreviousStatus: models.OrderStatusPending,
		NewStatus:      models.OrderStatusPending,
		Comment:        "Pedido creado exitosamente",
	})
}

// Confirm moves a pending order to confirmado
func (s *OrderService) Confirm(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Confirm")
	defer span.End()

	order, err := s.transition(ctx, orderID, models.OrderStatusConfirmed, "Pedido confirmado",
		models.OrderStatusPending)
	if err != nil {
		return err
	}

	util.OrdersConfirmedTotal.Inc()
	if err := s.notifier.Notify(ctx, order.UserID, "order_confirmed", order.TrackingNumber); err != nil {
		s.logger.Error("Failed to send confirmation notification", zap.Error(err))
	}
	return nil
}

// Cancel cancels a pending or confirmed order
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	comment := "Pedido cancelado"
	if reason != "" {
		comment = fmt.Sprintf("Pedido cancelado: %s", reason)
	}

	order, err := s.transition(ctx, orderID, models.OrderStatusCancelled, comment,
		models.OrderStatusPending, models.OrderStatusConfirmed)
	if err != nil {
		return err
	}

	util.OrdersCancelledTotal.Inc()
	if err := s.notifier.Notify(ctx, order.UserID, "order_cancelled", order.TrackingNumber); err != nil {
		s.logger.Error("Failed to send cancellation notification", zap.Error(err))
	}
	return nil
}

// SetStatus is the admin transition. Moves between non-terminal statuses are
// free so operators can skip or revert pipeline steps; entregado and
// cancelado are terminal and admit no further changes.
func (s *OrderService) SetStatus(ctx context.Context, orderID int64, status, comment string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus")
	defer span.End()

	if !models.IsValidOrderStatus(status) {
		return fmt.Errorf("%w: unknown order status %q", ErrValidation, status)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = s.orders.GetOrderByIDTx(ctx, tx, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		if err != nil {
			return err
		}

		if !models.CanAdminTransition(order.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
		}
		return s.applyTransitionTx(ctx, tx, order, status, comment)
	})
	if err != nil {
		return err
	}

	s.publishStatusChanged(ctx, order, status, comment)
	return nil
}

// RemoveLine deletes a line from a pending order and recomputes its totals.
// A pending payment is repriced to the new total and its checkout session
// invalidated, so an already-opened session cannot collect the old amount.
func (s *OrderService) RemoveLine(ctx context.Context, orderID, lineID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.RemoveLine")
	defer span.End()

	var repriced bool
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetOrderByIDTx(ctx, tx, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: lines can only be removed while the order is pending", ErrWrongState)
		}

		if err := s.orders.DeleteOrderLineTx(ctx, tx, orderID, lineID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: order line %d", ErrNotFound, lineID)
			}
			return err
		}

		if err := s.recomputeTotalsTx(ctx, tx, order); err != nil {
			return err
		}

		payment, err := s.payments.GetPaymentByOrderIDTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment != nil && payment.Status == models.PaymentStatusPending {
			if err := s.payments.ReconcilePaymentAmountTx(ctx, tx, payment.ID, order.MontoTotal); err != nil {
				return fmt.Errorf("failed to reprice payment: %w", err)
			}
			repriced = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if repriced {
		if err := s.cache.DeleteCheckoutSession(ctx, orderID); err != nil {
			s.logger.Warn("Failed to drop cached session after repricing", zap.Error(err))
		}
	}
	return nil
}

// recomputeTotalsTx rebuilds the derived monetary fields from the remaining
// lines, re-deriving shipping from the surviving products so shipping and tax
// stay consistent with the stored total.
func (s *OrderService) recomputeTotalsTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	lines, err := s.orders.GetOrderLinesTx(ctx, tx, order.ID)
	if err != nil {
		return err
	}

	subtotal := decimal.Zero
	shipping := decimal.Zero
	if len(lines) > 0 {
		ids := make([]int64, len(lines))
		for i, line := range lines {
			ids[i] = line.ProductID
			subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		products, err := s.catalog.GetProductsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		cartLines := make([]models.CartLine, len(lines))
		for i, line := range lines {
			cartLines[i] = models.CartLine{ProductID: line.ProductID, Quantity: line.Quantity}
		}
		shipping, err = s.shippingCostFor(ctx, cartLines, byID)
		if err != nil {
			return err
		}
	}

	order.SubtotalProductos = subtotal
	order.CostoEnvio = shipping
	order.MontoImpuestos, order.MontoTotal = applyTax(subtotal, shipping, s.taxRate)

	return s.orders.UpdateOrderTotalsTx(ctx, tx, order)
}

// GetOrder retrieves an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.orders.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, lines, nil
}

// ListUserOrders retrieves a user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByUserID(ctx, userID)
}

// History returns the order's full tracking timeline
func (s *OrderService) History(ctx context.Context, orderID int64) ([]models.TrackingEntry, error) {
	if _, err := s.orders.GetOrderByID(ctx, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		return nil, err
	}
	return s.orders.GetTrackingHistory(ctx, orderID)
}

// transition moves an order to newStatus if its current status is one of
// allowedFrom, appending exactly one tracking entry.
func (s *OrderService) transition(ctx context.Context, orderID int64, newStatus, comment string, allowedFrom ...string) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = s.orders.GetOrderByIDTx(ctx, tx, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		if err != nil {
			return err
		}

		allowed := false
		for _, from := range allowedFrom {
			if order.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
		}
		return s.applyTransitionTx(ctx, tx, order, newStatus, comment)
	})
	if err != nil {
		return nil, err
	}

	s.publishStatusChanged(ctx, order, newStatus, comment)
	return order, nil
}

// applyTransitionTx writes the status change and its audit entry
func (s *OrderService) applyTransitionTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, newStatus, comment string) error {
	if err := s.orders.UpdateOrderStatusTx(ctx, tx, order.ID, newStatus); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return s.orders.AppendTrackingEntryTx(ctx, tx, &models.TrackingEntry{
		OrderID:        order.ID,
		PreviousStatus: order.Status,
		NewStatus:      newStatus,
		Comment:        comment,
	})
}

func (s *OrderService) publishStatusChanged(ctx context.Context, order *models.Order, newStatus, comment string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: order.Status,
		NewStatus:      newStatus,
		Comment:        comment,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, lines []models.CartLine, products map[int64]*models.Product) {
	items := make([]models.OrderLineData, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderLineData{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: products[line.ProductID].OriginalPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		UserID:         order.UserID,
		TrackingNumber: order.TrackingNumber,
		MontoTotal:     order.MontoTotal,
		Items:          items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// loadProducts resolves every cart line's product, failing if any is missing
func (s *OrderService) loadProducts(ctx context.Context, lines []models.CartLine) (map[int64]*models.Product, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(products) != len(lines) {
		return nil, fmt.Errorf("%w: some products no longer exist", ErrNotFound)
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return byID, nil
}

// shippingCostFor prices shipping for a set of lines: free if any product
// ships free, otherwise the single highest tariff among the lines' shipment
// categories. The sum is intentionally not used.
func (s *OrderService) shippingCostFor(ctx context.Context, lines []models.CartLine, products map[int64]*models.Product) (decimal.Decimal, error) {
	categoryIDs := make([]int64, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		if product.FreeShipping {
			return decimal.Zero, nil
		}
		categoryIDs = append(categoryIDs, product.ShippingCategoryID)
	}

	categories, err := s.catalog.GetShippingCategoriesByIDs(ctx, categoryIDs)
	if err != nil {
		return decimal.Zero, err
	}

	maxTariff := decimal.Zero
	for _, category := range categories {
		if category.Tariff.GreaterThan(maxTariff) {
			maxTariff = category.Tariff
		}
	}
	return maxTariff, nil
}

// subtotalFor sums original price times quantity over the cart lines
func subtotalFor(lines []models.CartLine, products map[int64]*models.Product) decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range lines {
		price := products[line.ProductID].OriginalPrice
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal
}

// applyTax derives the tax amount and grand total from the taxable base,
// rounding the total to currency precision.
func applyTax(subtotal, shipping, taxRate decimal.Decimal) (impuestos, total decimal.Decimal) {
	base := subtotal.Add(shipping)
	total = base.Mul(decimal.NewFromInt(1).Add(taxRate)).Round(2)
	impuestos = total.Sub(base)
	return impuestos, total
}

// nextTrackingNumber derives the next ORD-NNNNN number from the most recent
// order. Non-numeric or missing prior numbers fall back to the last id + 1.
func nextTrackingNumber(last *models.Order) string {
	if last == nil {
		return fmt.Sprintf("%s%05d", trackingPrefix, 1)
	}

	raw := strings.TrimPrefix(last.TrackingNumber, trackingPrefix)
	if n, err := strconv.Atoi(raw); err == nil && raw != last.TrackingNumber {
		return fmt.Sprintf("%s%05d", trackingPrefix, n+1)
	}
	return fmt.Sprintf("%s%05d", trackingPrefix, last.ID+1)
}
