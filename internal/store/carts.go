package store

import (
	"context"
	"database/sql"
	"fmt"

	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateCart finds the user's cart, inserting one if absent. The insert
// is ON CONFLICT DO NOTHING so concurrent first requests converge on one row.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	var cart models.Cart
	if err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID); err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartByUserID retrieves a cart without creating one
func (s *Store) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartLines retrieves all lines of a cart
func (s *Store) GetCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM cart_lines WHERE cart_id = $1 ORDER BY id", cartID)
	return lines, err
}

// UpsertCartLine adds a product to a cart; an existing line has the quantity
// added to it rather than replaced.
func (s *Store) UpsertCartLine(ctx context.Context, cartID, productID int64, quantity int) (*models.CartLine, error) {
	var line models.CartLine
	err := s.db.GetContext(ctx, &line, `
		INSERT INTO cart_lines (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		RETURNING *`,
		cartID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart line: %w", err)
	}

	if err := s.touchCart(ctx, cartID); err != nil {
		return nil, err
	}
	return &line, nil
}

// SetCartLineQuantity replaces a line's quantity
func (s *Store) SetCartLineQuantity(ctx context.Context, cartID, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_lines SET quantity = $1 WHERE cart_id = $2 AND product_id = $3",
		quantity, cartID, productID)
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
	return s.touchCart(ctx, cartID)
}

// DeleteCartLine removes a product from a cart
func (s *Store) DeleteCartLine(ctx context.Context, cartID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if err != nil {
		return err
	}
	return s.touchCart(ctx, cartID)
}

// ClearCartTx deletes every line of a cart within the caller's transaction
func (s *Store) ClearCartTx(ctx context.Context, tx *sqlx.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	_, err := tx.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
	return err
}

func (s *Store) touchCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
	return err
}
