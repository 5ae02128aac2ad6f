package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentSucceeded   = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypePaymentRefunded    = "PAYMENT_REFUNDED"
	EventTypeReturnRequested    = "RETURN_REQUESTED"
	EventTypeReturnResolved     = "RETURN_RESOLVED"
	EventTypeLowStockAlert      = "LOW_STOCK_ALERT"
	EventTypeNotification       = "NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after a successful checkout commit
type OrderCreatedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	UserID         int64           `json:"user_id"`
	TrackingNumber string          `json:"tracking_number"`
	MontoTotal     decimal.Decimal `json:"monto_total"`
	Items          []OrderLineData `json:"items"`
}

// OrderStatusChangedEvent published on every order state transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	UserID         int64  `json:"user_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Comment        string `json:"comment,omitempty"`
}

// PaymentSucceededEvent published when a gateway confirmation lands
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	IntentID  string          `json:"intent_id"`
}

// PaymentFailedEvent published when a checkout session fails or expires
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// PaymentRefundedEvent published after a return is refunded
type PaymentRefundedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	PaymentID int64           `json:"payment_id"`
	ReturnID  int64           `json:"return_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ReturnRequestedEvent published when a customer files a return
type ReturnRequestedEvent struct {
	BaseEvent
	ReturnID  int64 `json:"return_id"`
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
}

// ReturnResolvedEvent published on approval, rejection or refund completion
type ReturnResolvedEvent struct {
	BaseEvent
	ReturnID int64  `json:"return_id"`
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
}

// LowStockAlertEvent published for products at or below the reorder threshold
type LowStockAlertEvent struct {
	BaseEvent
	Alerts []LowStockAlert `json:"alerts"`
}

// NotificationEvent is a fire-and-forget message for the notification worker
type NotificationEvent struct {
	BaseEvent
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// OrderLineData represents order line data carried in events
type OrderLineData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
