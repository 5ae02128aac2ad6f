package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// IsUniqueViolation reports whether err wraps a postgres unique constraint
// error. Checkout uses it to retry tracking-number allocation under contention.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetLastOrderTx reads the most recently created order inside a transaction.
// Used to derive the next tracking number.
func (s *Store) GetLastOrderTx(ctx context.Context, tx *sqlx.Tx) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders ORDER BY id DESC LIMIT 1")
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrderTx inserts a new order within the caller's transaction
func (s *Store) CreateOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, tracking_number, status, subtotal_productos,
		                    costo_envio, monto_impuestos, monto_total,
		                    shipping_address, billing_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, order, query,
		order.UserID, order.TrackingNumber, order.Status, order.SubtotalProductos,
		order.CostoEnvio, order.MontoImpuestos, order.MontoTotal,
		order.ShippingAddress, order.BillingAddress)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIDTx retrieves an order by ID with a row lock, so concurrent
// transitions on the same order serialize.
func (s *Store) GetOrderByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatusTx updates an order's status within the caller's transaction
func (s *Store) UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID int64, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// UpdateOrderTotalsTx rewrites the derived monetary fields of an order
func (s *Store) UpdateOrderTotalsTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET subtotal_productos = $1, costo_envio = $2, monto_impuestos = $3,
		    monto_total = $4, updated_at = NOW()
		WHERE id = $5`,
		order.SubtotalProductos, order.CostoEnvio, order.MontoImpuestos,
		order.MontoTotal, order.ID)
	return err
}

// CreateOrderLineTx inserts an order line within the caller's transaction
func (s *Store) CreateOrderLineTx(ctx context.Context, tx *sqlx.Tx, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return tx.GetContext(ctx, &line.ID, query,
		line.OrderID, line.ProductID, line.Quantity, line.UnitPrice)
}

// GetOrderLines retrieves all lines for an order
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetOrderLinesTx retrieves all lines for an order inside a transaction
func (s *Store) GetOrderLinesTx(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := tx.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetOrderLineTx retrieves one line of an order for a specific product
func (s *Store) GetOrderLineTx(ctx context.Context, tx *sqlx.Tx, orderID, productID int64) (*models.OrderLine, error) {
	var line models.OrderLine
	err := tx.GetContext(ctx, &line,
		"SELECT * FROM order_lines WHERE order_id = $1 AND product_id = $2", orderID, productID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// DeleteOrderLineTx removes a line from an order within the caller's transaction
func (s *Store) DeleteOrderLineTx(ctx context.Context, tx *sqlx.Tx, orderID, lineID int64) error {
	res, err := tx.ExecContext(ctx,
		"DELETE FROM order_lines WHERE id = $1 AND order_id = $2", lineID, orderID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendTrackingEntryTx appends one audit entry for a status transition.
// Entries are never updated or deleted.
func (s *Store) AppendTrackingEntryTx(ctx context.Context, tx *sqlx.Tx, entry *models.TrackingEntry) error {
	query := `
		INSERT INTO tracking_entries (order_id, previous_status, new_status, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	if err := tx.GetContext(ctx, entry, query,
		entry.OrderID, entry.PreviousStatus, entry.NewStatus, entry.Comment); err != nil {
		return fmt.Errorf("failed to append tracking entry: %w", err)
	}
	return nil
}

// GetTrackingHistory retrieves the full tracking timeline of an order
func (s *Store) GetTrackingHistory(ctx context.Context, orderID int64) ([]models.TrackingEntry, error) {
	var entries []models.TrackingEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM tracking_entries WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return entries, err
}
