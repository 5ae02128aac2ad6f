package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product
type Product struct {
	ID                 int64           `db:"id" json:"id"`
	SKU                string          `db:"sku" json:"sku"`
	Name               string          `db:"name" json:"name"`
	Price              decimal.Decimal `db:"price" json:"price"`
	OriginalPrice      decimal.Decimal `db:"original_price" json:"original_price"`
	Status             string          `db:"status" json:"status"`
	FreeShipping       bool            `db:"free_shipping" json:"free_shipping"`
	WeightKg           decimal.Decimal `db:"weight_kg" json:"weight_kg"`
	ShippingCategoryID int64           `db:"shipping_category_id" json:"shipping_category_id"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// Product statuses
const (
	ProductStatusActive   = "activo"
	ProductStatusInactive = "inactivo"
	ProductStatusSoldOut  = "agotado"
)

// ShippingCategory is a weight/size bucket with a per-order tariff.
// An order is charged the highest tariff among its lines, not the sum.
type ShippingCategory struct {
	ID     int64           `db:"id" json:"id"`
	Name   string          `db:"name" json:"name"`
	Tariff decimal.Decimal `db:"tariff" json:"tariff"`
}

// Inventory represents product stock, one row per product
type Inventory struct {
	ProductID         int64     `db:"product_id" json:"product_id"`
	StockActual       int       `db:"stock_actual" json:"stock_actual"`
	StockMinimum      int       `db:"stock_minimum" json:"stock_minimum"`
	WarehouseLocation string    `db:"warehouse_location" json:"warehouse_location,omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// LowStockAlert reports a product at or below its reorder threshold
type LowStockAlert struct {
	ProductID    int64  `db:"product_id" json:"product_id"`
	ProductName  string `db:"product_name" json:"product_name"`
	StockActual  int    `db:"stock_actual" json:"stock_actual"`
	StockMinimum int    `db:"stock_minimum" json:"stock_minimum"`
	Deficit      int    `db:"deficit" json:"deficit"`
	Location     string `db:"warehouse_location" json:"location,omitempty"`
}

// Cart is the per-user staging area, cleared on successful checkout
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is one (product, quantity) entry, unique per cart and product
type CartLine struct {
	ID        int64 `db:"id" json:"id"`
	CartID    int64 `db:"cart_id" json:"cart_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Order is a priced, stateful record created from a cart at checkout.
// Monetary fields are derived once at creation and satisfy
// MontoTotal == (SubtotalProductos + CostoEnvio) * (1 + tax rate).
type Order struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	TrackingNumber    string          `db:"tracking_number" json:"tracking_number"`
	Status            string          `db:"status" json:"status"`
	SubtotalProductos decimal.Decimal `db:"subtotal_productos" json:"subtotal_productos"`
	CostoEnvio        decimal.Decimal `db:"costo_envio" json:"costo_envio"`
	MontoImpuestos    decimal.Decimal `db:"monto_impuestos" json:"monto_impuestos"`
	MontoTotal        decimal.Decimal `db:"monto_total" json:"monto_total"`
	ShippingAddress   string          `db:"shipping_address" json:"shipping_address"`
	BillingAddress    string          `db:"billing_address" json:"billing_address,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending    = "pendiente"
	OrderStatusConfirmed  = "confirmado"
	OrderStatusProcessing = "en_proceso"
	OrderStatusShipped    = "enviado"
	OrderStatusDelivered  = "entregado"
	OrderStatusCancelled  = "cancelado"
)

// OrderLine is a frozen (product, quantity, unit price) snapshot.
// UnitPrice is captured at checkout and never follows later catalog changes.
type OrderLine struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Payment tracks the one-to-one financial state of an order
type Payment struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	Status           string          `db:"status" json:"status"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	GatewaySessionID string          `db:"gateway_session_id" json:"gateway_session_id,omitempty"`
	GatewayIntentID  string          `db:"gateway_intent_id" json:"gateway_intent_id,omitempty"`
	Method           string          `db:"method" json:"method,omitempty"`
	FailureReason    string          `db:"failure_reason" json:"failure_reason,omitempty"`
	PaidAt           *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment statuses
const (
	PaymentStatusPending  = "pendiente"
	PaymentStatusSuccess  = "exitoso"
	PaymentStatusFailed   = "fallido"
	PaymentStatusRefunded = "reembolsado"
)

// Receipt (comprobante) is issued once per order on payment confirmation.
// Type is factura above the configured threshold, boleta otherwise.
type Receipt struct {
	ID       int64     `db:"id" json:"id"`
	OrderID  int64     `db:"order_id" json:"order_id"`
	Type     string    `db:"type" json:"type"`
	PDFURL   string    `db:"pdf_url" json:"pdf_url,omitempty"`
	IssuedAt time.Time `db:"issued_at" json:"issued_at"`
}

// Receipt types
const (
	ReceiptTypeFactura = "factura"
	ReceiptTypeBoleta  = "boleta"
)

// Return (devolucion) is a post-purchase reversal request for one order line
type Return struct {
	ID          int64      `db:"id" json:"id"`
	OrderID     int64      `db:"order_id" json:"order_id"`
	ProductID   int64      `db:"product_id" json:"product_id"`
	Reason      string     `db:"reason" json:"reason"`
	Status      string     `db:"status" json:"status"`
	RequestedAt time.Time  `db:"requested_at" json:"requested_at"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Return statuses
const (
	ReturnStatusRequested = "solicitada"
	ReturnStatusInReview  = "en_revision"
	ReturnStatusApproved  = "aprobada"
	ReturnStatusRejected  = "rechazada"
	ReturnStatusRefunded  = "reembolsada"
)

// TrackingEntry is an append-only audit record of an order status transition
type TrackingEntry struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	PreviousStatus string    `db:"previous_status" json:"previous_status"`
	NewStatus      string    `db:"new_status" json:"new_status"`
	Comment        string    `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for webhook/event idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
