package store

import (
	"context"
	"database/sql"
	"fmt"

	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetInventory retrieves the inventory row for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("inventory not found for product: %d", productID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CheckAvailability reports whether stock covers the requested quantity.
// Pure read; checkout re-checks under a row lock before decrementing.
func (s *Store) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	var available int
	err := s.db.GetContext(ctx, &available,
		"SELECT stock_actual FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("inventory not found for product: %d", productID)
	}
	if err != nil {
		return false, err
	}
	return available >= quantity, nil
}

// ReduceStockTx decrements stock within the caller's transaction, locking the
// row first so two checkouts contending for the last unit serialize.
func (s *Store) ReduceStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	var available int
	err := tx.GetContext(ctx, &available,
		"SELECT stock_actual FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("inventory not found for product: %d", productID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock inventory: %w", err)
	}

	if available < quantity {
		return &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory SET stock_actual = stock_actual - $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to reduce stock: %w", err)
	}
	return nil
}

// IncreaseStockTx increments stock within the caller's transaction
func (s *Store) IncreaseStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE inventory SET stock_actual = stock_actual + $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to increase stock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("inventory not found for product: %d", productID)
	}
	return nil
}

// SetStock sets an absolute stock level (admin adjustment)
func (s *Store) SetStock(ctx context.Context, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inventory SET stock_actual = $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("inventory not found for product: %d", productID)
	}
	return nil
}

// GetLowStock retrieves products at or below their reorder threshold
func (s *Store) GetLowStock(ctx context.Context) ([]models.LowStockAlert, error) {
	var alerts []models.LowStockAlert
	err := s.db.SelectContext(ctx, &alerts, `
		SELECT i.product_id,
		       p.name AS product_name,
		       i.stock_actual,
		       i.stock_minimum,
		       i.stock_minimum - i.stock_actual AS deficit,
		       i.warehouse_location
		FROM inventory i
		JOIN products p ON p.id = i.product_id
		WHERE i.stock_actual <= i.stock_minimum
		ORDER BY deficit DESC`)
	return alerts, err
}
