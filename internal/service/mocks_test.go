package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"comercio-service/internal/gateway"
	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory double for the persistence interfaces. WithTx
// snapshots all state and restores it when the callback errors, so rollback
// behavior can be asserted without a database. Tx-suffixed methods are only
// ever reached from inside WithTx and rely on its lock.
type memStore struct {
	mu sync.Mutex

	products   map[int64]*models.Product
	categories map[int64]models.ShippingCategory
	inventory  map[int64]*models.Inventory
	lowStock   []models.LowStockAlert

	carts     map[int64]*models.Cart // keyed by user id
	cartLines map[int64][]models.CartLine

	orders     map[int64]*models.Order
	orderLines map[int64][]models.OrderLine
	tracking   map[int64][]models.TrackingEntry

	payments  map[int64]*models.Payment
	receipts  map[int64]*models.Receipt // keyed by order id
	processed map[string]string

	returns map[int64]*models.Return

	nextID int64

	// createOrderErrs is consumed one error per CreateOrderTx call; nil
	// entries mean success. Used to simulate tracking number collisions.
	createOrderErrs []error
}

func newMemStore() *memStore {
	return &memStore{
		products:   make(map[int64]*models.Product),
		categories: make(map[int64]models.ShippingCategory),
		inventory:  make(map[int64]*models.Inventory),
		carts:      make(map[int64]*models.Cart),
		cartLines:  make(map[int64][]models.CartLine),
		orders:     make(map[int64]*models.Order),
		orderLines: make(map[int64][]models.OrderLine),
		tracking:   make(map[int64][]models.TrackingEntry),
		payments:   make(map[int64]*models.Payment),
		receipts:   make(map[int64]*models.Receipt),
		processed:  make(map[string]string),
		returns:    make(map[int64]*models.Return),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func errUniqueViolation() error {
	return &pq.Error{Code: "23505", Constraint: "orders_tracking_number_key"}
}

type memSnapshot struct {
	inventory  map[int64]models.Inventory
	carts      map[int64]models.Cart
	cartLines  map[int64][]models.CartLine
	orders     map[int64]models.Order
	orderLines map[int64][]models.OrderLine
	tracking   map[int64][]models.TrackingEntry
	payments   map[int64]models.Payment
	receipts   map[int64]models.Receipt
	processed  map[string]string
	returns    map[int64]models.Return
	nextID     int64
}

func (m *memStore) snapshot() *memSnapshot {
	s := &memSnapshot{
		inventory:  make(map[int64]models.Inventory),
		carts:      make(map[int64]models.Cart),
		cartLines:  make(map[int64][]models.CartLine),
		orders:     make(map[int64]models.Order),
		orderLines: make(map[int64][]models.OrderLine),
		tracking:   make(map[int64][]models.TrackingEntry),
		payments:   make(map[int64]models.Payment),
		receipts:   make(map[int64]models.Receipt),
		processed:  make(map[string]string),
		returns:    make(map[int64]models.Return),
		nextID:     m.nextID,
	}
	for k, v := range m.inventory {
		s.inventory[k] = *v
	}
	for k, v := range m.carts {
		s.carts[k] = *v
	}
	for k, v := range m.cartLines {
		s.cartLines[k] = append([]models.CartLine(nil), v...)
	}
	for k, v := range m.orders {
		s.orders[k] = *v
	}
	for k, v := range m.orderLines {
		s.orderLines[k] = append([]models.OrderLine(nil), v...)
	}
	for k, v := range m.tracking {
		s.tracking[k] = append([]models.TrackingEntry(nil), v...)
	}
	for k, v := range m.payments {
		s.payments[k] = *v
	}
	for k, v := range m.receipts {
		s.receipts[k] = *v
	}
	for k, v := range m.processed {
		s.processed[k] = v
	}
	for k, v := range m.returns {
		s.returns[k] = *v
	}
	return s
}

func (m *memStore) restore(s *memSnapshot) {
	m.inventory = make(map[int64]*models.Inventory)
	for k := range s.inventory {
		v := s.inventory[k]
		m.inventory[k] = &v
	}
	m.carts = make(map[int64]*models.Cart)
	for k := range s.carts {
		v := s.carts[k]
		m.carts[k] = &v
	}
	m.cartLines = s.cartLines
	m.orders = make(map[int64]*models.Order)
	for k := range s.orders {
		v := s.orders[k]
		m.orders[k] = &v
	}
	m.orderLines = s.orderLines
	m.tracking = s.tracking
	m.payments = make(map[int64]*models.Payment)
	for k := range s.payments {
		v := s.payments[k]
		m.payments[k] = &v
	}
	m.receipts = make(map[int64]*models.Receipt)
	for k := range s.receipts {
		v := s.receipts[k]
		m.receipts[k] = &v
	}
	m.processed = s.processed
	m.returns = make(map[int64]*models.Return)
	for k := range s.returns {
		v := s.returns[k]
		m.returns[k] = &v
	}
	m.nextID = s.nextID
}

// WithTx serializes callbacks and rolls state back on error
func (m *memStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// --- CatalogStore ---
// Catalog reads happen both inside and outside WithTx and the fixture data is
// never mutated concurrently, so they stay lock-free.

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) GetShippingCategoriesByIDs(ctx context.Context, ids []int64) ([]models.ShippingCategory, error) {
	var out []models.ShippingCategory
	seen := make(map[int64]bool)
	for _, id := range ids {
		if c, ok := m.categories[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateProductStatus(ctx context.Context, productID int64, status string) error {
	p, ok := m.products[productID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = status
	return nil
}

// --- InventoryStore ---

func (m *memStore) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventory[productID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventory[productID]
	if !ok {
		return false, sql.ErrNoRows
	}
	return inv.StockActual >= quantity, nil
}

func (m *memStore) ReduceStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	inv, ok := m.inventory[productID]
	if !ok {
		return sql.ErrNoRows
	}
	if inv.StockActual < quantity {
		return &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: inv.StockActual,
		}
	}
	inv.StockActual -= quantity
	return nil
}

func (m *memStore) IncreaseStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	inv, ok := m.inventory[productID]
	if !ok {
		return sql.ErrNoRows
	}
	inv.StockActual += quantity
	return nil
}

func (m *memStore) SetStock(ctx context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventory[productID]
	if !ok {
		return sql.ErrNoRows
	}
	inv.StockActual = quantity
	return nil
}

func (m *memStore) GetLowStock(ctx context.Context) ([]models.LowStockAlert, error) {
	return m.lowStock, nil
}

// --- CartStore ---

func (m *memStore) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart, ok := m.carts[userID]; ok {
		cp := *cart
		return &cp, nil
	}
	cart := &models.Cart{ID: m.id(), UserID: userID}
	m.carts[userID] = cart
	cp := *cart
	return &cp, nil
}

func (m *memStore) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	cp := *cart
	return &cp, nil
}

func (m *memStore) GetCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CartLine(nil), m.cartLines[cartID]...), nil
}

func (m *memStore) UpsertCartLine(ctx context.Context, cartID, productID int64, quantity int) (*models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.cartLines[cartID]
	for i := range lines {
		if lines[i].ProductID == productID {
			lines[i].Quantity += quantity
			cp := lines[i]
			return &cp, nil
		}
	}
	line := models.CartLine{ID: m.id(), CartID: cartID, ProductID: productID, Quantity: quantity}
	m.cartLines[cartID] = append(lines, line)
	return &line, nil
}

func (m *memStore) SetCartLineQuantity(ctx context.Context, cartID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.cartLines[cartID]
	for i := range lines {
		if lines[i].ProductID == productID {
			lines[i].Quantity = quantity
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) DeleteCartLine(ctx context.Context, cartID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.cartLines[cartID]
	for i := range lines {
		if lines[i].ProductID == productID {
			m.cartLines[cartID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) ClearCartTx(ctx context.Context, tx *sqlx.Tx, cartID int64) error {
	delete(m.cartLines, cartID)
	return nil
}

// --- OrderStore ---

func (m *memStore) GetLastOrderTx(ctx context.Context, tx *sqlx.Tx) (*models.Order, error) {
	var last *models.Order
	for _, o := range m.orders {
		if last == nil || o.ID > last.ID {
			last = o
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *memStore) CreateOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	if len(m.createOrderErrs) > 0 {
		err := m.createOrderErrs[0]
		m.createOrderErrs = m.createOrderErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, o := range m.orders {
		if o.TrackingNumber == order.TrackingNumber {
			return errUniqueViolation()
		}
	}
	order.ID = m.id()
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrder(id)
}

func (m *memStore) GetOrderByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error) {
	return m.getOrder(id)
}

func (m *memStore) getOrder(id int64) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID int64, status string) error {
	o, ok := m.orders[orderID]
	if !ok {
		return sql.ErrNoRows
	}
	o.Status = status
	return nil
}

func (m *memStore) UpdateOrderTotalsTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	o, ok := m.orders[order.ID]
	if !ok {
		return sql.ErrNoRows
	}
	o.SubtotalProductos = order.SubtotalProductos
	o.CostoEnvio = order.CostoEnvio
	o.MontoImpuestos = order.MontoImpuestos
	o.MontoTotal = order.MontoTotal
	return nil
}

func (m *memStore) CreateOrderLineTx(ctx context.Context, tx *sqlx.Tx, line *models.OrderLine) error {
	line.ID = m.id()
	m.orderLines[line.OrderID] = append(m.orderLines[line.OrderID], *line)
	return nil
}

func (m *memStore) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderLine(nil), m.orderLines[orderID]...), nil
}

func (m *memStore) GetOrderLinesTx(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.OrderLine, error) {
	return append([]models.OrderLine(nil), m.orderLines[orderID]...), nil
}

func (m *memStore) GetOrderLineTx(ctx context.Context, tx *sqlx.Tx, orderID, productID int64) (*models.OrderLine, error) {
	for _, line := range m.orderLines[orderID] {
		if line.ProductID == productID {
			cp := line
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) DeleteOrderLineTx(ctx context.Context, tx *sqlx.Tx, orderID, lineID int64) error {
	lines := m.orderLines[orderID]
	for i := range lines {
		if lines[i].ID == lineID {
			m.orderLines[orderID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) AppendTrackingEntryTx(ctx context.Context, tx *sqlx.Tx, entry *models.TrackingEntry) error {
	entry.ID = m.id()
	m.tracking[entry.OrderID] = append(m.tracking[entry.OrderID], *entry)
	return nil
}

func (m *memStore) GetTrackingHistory(ctx context.Context, orderID int64) ([]models.TrackingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TrackingEntry(nil), m.tracking[orderID]...), nil
}

// --- PaymentStore ---

func (m *memStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == payment.OrderID {
			return errUniqueViolation()
		}
	}
	payment.ID = m.id()
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *memStore) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paymentByOrder(orderID)
}

func (m *memStore) GetPaymentByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Payment, error) {
	return m.paymentByOrder(orderID)
}

func (m *memStore) paymentByOrder(orderID int64) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paymentByID(id)
}

func (m *memStore) GetPaymentByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Payment, error) {
	return m.paymentByID(id)
}

func (m *memStore) paymentByID(id int64) (*models.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdatePaymentSession(ctx context.Context, paymentID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.GatewaySessionID = sessionID
	return nil
}

func (m *memStore) ReconcilePaymentAmountTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, amount decimal.Decimal) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Amount = amount
	p.GatewaySessionID = ""
	return nil
}

func (m *memStore) MarkPaymentSucceededTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, intentID, method string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PaymentStatusSuccess
	p.GatewayIntentID = intentID
	p.Method = method
	return nil
}

func (m *memStore) MarkPaymentFailedTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, reason string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PaymentStatusFailed
	p.FailureReason = reason
	return nil
}

func (m *memStore) MarkPaymentRefundedTx(ctx context.Context, tx *sqlx.Tx, paymentID int64) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PaymentStatusRefunded
	return nil
}

func (m *memStore) CreateReceiptTx(ctx context.Context, tx *sqlx.Tx, receipt *models.Receipt) (*models.Receipt, error) {
	if existing, ok := m.receipts[receipt.OrderID]; ok {
		cp := *existing
		return &cp, nil
	}
	receipt.ID = m.id()
	cp := *receipt
	m.receipts[receipt.OrderID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetReceiptByOrderID(ctx context.Context, orderID int64) (*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[orderID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateReceiptURL(ctx context.Context, receiptID int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.ID == receiptID {
			r.PDFURL = url
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memStore) MarkEventProcessedTx(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) (bool, error) {
	if _, ok := m.processed[eventID]; ok {
		return false, nil
	}
	m.processed[eventID] = eventType
	return true, nil
}

// --- ReturnStore ---

func (m *memStore) CreateReturn(ctx context.Context, ret *models.Return) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret.ID = m.id()
	ret.Status = models.ReturnStatusRequested
	cp := *ret
	m.returns[ret.ID] = &cp
	return nil
}

func (m *memStore) GetReturnByID(ctx context.Context, id int64) (*models.Return, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getReturn(id)
}

func (m *memStore) GetReturnByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Return, error) {
	return m.getReturn(id)
}

func (m *memStore) getReturn(id int64) (*models.Return, error) {
	r, ok := m.returns[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetReturnsByOrderID(ctx context.Context, orderID int64) ([]models.Return, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Return
	for _, r := range m.returns {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateReturnStatus(ctx context.Context, returnID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setReturnStatus(returnID, status)
}

func (m *memStore) UpdateReturnStatusTx(ctx context.Context, tx *sqlx.Tx, returnID int64, status string) error {
	return m.setReturnStatus(returnID, status)
}

func (m *memStore) setReturnStatus(returnID int64, status string) error {
	r, ok := m.returns[returnID]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	return nil
}

func (m *memStore) AppendReturnReason(ctx context.Context, returnID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.returns[returnID]
	if !ok {
		return sql.ErrNoRows
	}
	r.Reason += text
	return nil
}

// --- collaborators ---

// fakePublisher records every published event
type fakePublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *fakePublisher) record(e interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) typesSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		switch e.(type) {
		case *models.OrderCreatedEvent:
			out = append(out, models.EventTypeOrderCreated)
		case *models.OrderStatusChangedEvent:
			out = append(out, models.EventTypeOrderStatusChanged)
		case *models.PaymentSucceededEvent:
			out = append(out, models.EventTypePaymentSucceeded)
		case *models.PaymentFailedEvent:
			out = append(out, models.EventTypePaymentFailed)
		case *models.PaymentRefundedEvent:
			out = append(out, models.EventTypePaymentRefunded)
		case *models.ReturnRequestedEvent:
			out = append(out, models.EventTypeReturnRequested)
		case *models.ReturnResolvedEvent:
			out = append(out, models.EventTypeReturnResolved)
		case *models.LowStockAlertEvent:
			out = append(out, models.EventTypeLowStockAlert)
		}
	}
	return out
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishPaymentSucceeded(ctx context.Context, e *models.PaymentSucceededEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishPaymentRefunded(ctx context.Context, e *models.PaymentRefundedEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishReturnRequested(ctx context.Context, e *models.ReturnRequestedEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishReturnResolved(ctx context.Context, e *models.ReturnResolvedEvent) error {
	return p.record(e)
}
func (p *fakePublisher) PublishLowStockAlert(ctx context.Context, e *models.LowStockAlertEvent) error {
	return p.record(e)
}

// fakeNotifier records notifications
type fakeNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *fakeNotifier) Notify(ctx context.Context, userID int64, kind, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return nil
}

// fakeGateway returns canned sessions and verification outcomes
type fakeGateway struct {
	mu             sync.Mutex
	sessions       []*gateway.Session
	created        int
	activeSessions map[string]bool
	verifyEvent    *gateway.Event
	verifyErr      error
	createErr      error
}

func (g *fakeGateway) CreateSession(ctx context.Context, req *gateway.CreateSessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created++
	// Unique per call, like the provider: a re-created session for the same
	// order must never collide with the one it replaces.
	session := &gateway.Session{
		ID:     fmt.Sprintf("cs_%s_%d", req.TrackingNumber, g.created),
		URL:    "https://pay.example.com/s/" + req.TrackingNumber,
		Status: "open",
	}
	g.sessions = append(g.sessions, session)
	if g.activeSessions == nil {
		g.activeSessions = make(map[string]bool)
	}
	g.activeSessions[session.ID] = true
	return session, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyEvent, nil
}

func (g *fakeGateway) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeSessions[sessionID], nil
}

// fakeCache is an in-memory SessionCache
type fakeCache struct {
	mu       sync.Mutex
	sessions map[int64][2]string
	seen     map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		sessions: make(map[int64][2]string),
		seen:     make(map[string]bool),
	}
}

func (c *fakeCache) GetCheckoutSession(ctx context.Context, orderID int64) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[orderID]
	if !ok {
		return "", "", nil
	}
	return s[0], s[1], nil
}

func (c *fakeCache) SetCheckoutSession(ctx context.Context, orderID int64, sessionID, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[orderID] = [2]string{sessionID, url}
	return nil
}

func (c *fakeCache) DeleteCheckoutSession(ctx context.Context, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, orderID)
	return nil
}

func (c *fakeCache) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[eventID] {
		return false, nil
	}
	c.seen[eventID] = true
	return true, nil
}

func (c *fakeCache) UnmarkEventSeen(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, eventID)
	return nil
}

// fakeRenderer returns a deterministic URL
type fakeRenderer struct {
	err   error
	calls int
}

func (r *fakeRenderer) RenderReceipt(ctx context.Context, order *models.Order, receipt *models.Receipt) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "https://docs.example.com/receipts/" + order.TrackingNumber + ".pdf", nil
}

// flakyTxRunner fails the first n transactions before delegating, simulating
// transient database errors.
type flakyTxRunner struct {
	inner    TxRunner
	failures int
}

func (f *flakyTxRunner) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("driver: bad connection")
	}
	return f.inner.WithTx(ctx, fn)
}

// fakeLocker grants or denies the lock and records releases.
type fakeLocker struct {
	held     bool
	acquires int
	releases int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	l.acquires++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	l.releases++
	l.held = false
	return nil
}
