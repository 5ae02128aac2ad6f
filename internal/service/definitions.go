package service

import (
	"context"
	"time"

	"comercio-service/internal/gateway"
	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// TxRunner opens the unit-of-work boundary. Multi-step mutations (checkout,
// refund processing) run entirely inside one call and commit only on success.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// CatalogStore reads catalog data owned by the products subsystem.
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetShippingCategoriesByIDs(ctx context.Context, ids []int64) ([]models.ShippingCategory, error)
	UpdateProductStatus(ctx context.Context, productID int64, status string) error
}

// InventoryStore persists the stock ledger.
type InventoryStore interface {
	GetInventory(ctx context.Context, productID int64) (*models.Inventory, error)
	CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error)
	ReduceStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error
	IncreaseStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error
	SetStock(ctx context.Context, productID int64, quantity int) error
	GetLowStock(ctx context.Context) ([]models.LowStockAlert, error)
}

// CartStore persists carts and their lines.
type CartStore interface {
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	UpsertCartLine(ctx context.Context, cartID, productID int64, quantity int) (*models.CartLine, error)
	SetCartLineQuantity(ctx context.Context, cartID, productID int64, quantity int) error
	DeleteCartLine(ctx context.Context, cartID, productID int64) error
	ClearCartTx(ctx context.Context, tx *sqlx.Tx, cartID int64) error
}

// OrderStore persists orders, order lines and the tracking ledger.
type OrderStore interface {
	GetLastOrderTx(ctx context.Context, tx *sqlx.Tx) (*models.Order, error)
	CreateOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID int64, status string) error
	UpdateOrderTotalsTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error
	CreateOrderLineTx(ctx context.Context, tx *sqlx.Tx, line *models.OrderLine) error
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetOrderLinesTx(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.OrderLine, error)
	GetOrderLineTx(ctx context.Context, tx *sqlx.Tx, orderID, productID int64) (*models.OrderLine, error)
	DeleteOrderLineTx(ctx context.Context, tx *sqlx.Tx, orderID, lineID int64) error
	AppendTrackingEntryTx(ctx context.Context, tx *sqlx.Tx, entry *models.TrackingEntry) error
	GetTrackingHistory(ctx context.Context, orderID int64) ([]models.TrackingEntry, error)
}

// PaymentStore persists payments, receipts and the processed-event ledger.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Payment, error)
	GetPaymentByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Payment, error)
	UpdatePaymentSession(ctx context.Context, paymentID int64, sessionID string) error
	ReconcilePaymentAmountTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, amount decimal.Decimal) error
	MarkPaymentSucceededTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, intentID, method string) error
	MarkPaymentFailedTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, reason string) error
	MarkPaymentRefundedTx(ctx context.Context, tx *sqlx.Tx, paymentID int64) error
	CreateReceiptTx(ctx context.Context, tx *sqlx.Tx, receipt *models.Receipt) (*models.Receipt, error)
	GetReceiptByOrderID(ctx context.Context, orderID int64) (*models.Receipt, error)
	UpdateReceiptURL(ctx context.Context, receiptID int64, url string) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessedTx(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) (bool, error)
}

// ReturnStore persists devoluciones.
type ReturnStore interface {
	CreateReturn(ctx context.Context, ret *models.Return) error
	GetReturnByID(ctx context.Context, id int64) (*models.Return, error)
	GetReturnByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Return, error)
	GetReturnsByOrderID(ctx context.Context, orderID int64) ([]models.Return, error)
	UpdateReturnStatus(ctx context.Context, returnID int64, status string) error
	UpdateReturnStatusTx(ctx context.Context, tx *sqlx.Tx, returnID int64, status string) error
	AppendReturnReason(ctx context.Context, returnID int64, text string) error
}

// PaymentGateway is the external checkout provider.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req *gateway.CreateSessionRequest) (*gateway.Session, error)
	VerifyWebhook(payload []byte, signature string) (*gateway.Event, error)
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

// EventPublisher publishes domain events to the broker.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
	PublishReturnRequested(ctx context.Context, event *models.ReturnRequestedEvent) error
	PublishReturnResolved(ctx context.Context, event *models.ReturnResolvedEvent) error
	PublishLowStockAlert(ctx context.Context, event *models.LowStockAlertEvent) error
}

// Notifier delivers fire-and-forget user notifications. Callers log failures
// and never block workflow outcomes on delivery.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind, payload string) error
}

// ReceiptRenderer renders a receipt document and returns its URL. Rendering
// failures never roll back the payment confirmation they follow.
type ReceiptRenderer interface {
	RenderReceipt(ctx context.Context, order *models.Order, receipt *models.Receipt) (string, error)
}

// SessionCache caches gateway checkout sessions keyed by order.
type SessionCache interface {
	GetCheckoutSession(ctx context.Context, orderID int64) (sessionID, url string, err error)
	SetCheckoutSession(ctx context.Context, orderID int64, sessionID, url string) error
	DeleteCheckoutSession(ctx context.Context, orderID int64) error
	MarkEventSeen(ctx context.Context, eventID string) (first bool, err error)
	UnmarkEventSeen(ctx context.Context, eventID string) error
}

// AlertLocker serializes periodic scans across instances.
type AlertLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}
