package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"comercio-service/internal/models"
	"comercio-service/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages the per-user staging area before checkout
type CartService struct {
	tx      TxRunner
	carts   CartStore
	catalog CatalogStore
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(tx TxRunner, carts CartStore, catalog CatalogStore) *CartService {
	return &CartService{
		tx:      tx,
		carts:   carts,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// Get returns the user's cart and its lines, creating the cart if absent
func (s *CartService) Get(ctx context.Context, userID int64) (*models.Cart, []models.CartLine, error) {
	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.carts.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, nil, err
	}
	return cart, lines, nil
}

// AddItem adds a product to the user's cart. Adding a product already in the
// cart increments its quantity.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	product, err := s.catalog.GetProductByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if product.Status != models.ProductStatusActive {
		return nil, fmt.Errorf("%w: product %d is not available", ErrWrongState, productID)
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	line, err := s.carts.UpsertCartLine(ctx, cart.ID, productID, quantity)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", line.Quantity))
	return line, nil
}

// UpdateQuantity replaces a line's quantity. A quantity of zero or less
// removes the line entirely.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	cart, err := s.carts.GetCartByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if cart == nil {
		return fmt.Errorf("%w: cart for user %d", ErrNotFound, userID)
	}

	if quantity <= 0 {
		return s.carts.DeleteCartLine(ctx, cart.ID, productID)
	}

	if err := s.carts.SetCartLineQuantity(ctx, cart.ID, productID, quantity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: product %d not in cart", ErrNotFound, productID)
		}
		return err
	}
	return nil
}

// RemoveItem deletes a product from the user's cart
func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) error {
	cart, err := s.carts.GetCartByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if cart == nil {
		return fmt.Errorf("%w: cart for user %d", ErrNotFound, userID)
	}
	return s.carts.DeleteCartLine(ctx, cart.ID, productID)
}

// Clear empties the user's cart
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	cart, err := s.carts.GetCartByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if cart == nil {
		return fmt.Errorf("%w: cart for user %d", ErrNotFound, userID)
	}

	return s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.carts.ClearCartTx(ctx, tx, cart.ID)
	})
}

// Subtotal computes the cart total from current catalog prices on demand
func (s *CartService) Subtotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	cart, err := s.carts.GetCartByUserID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if cart == nil {
		return decimal.Zero, nil
	}

	lines, err := s.carts.GetCartLines(ctx, cart.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(lines) == 0 {
		return decimal.Zero, nil
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: product %d", ErrNotFound, line.ProductID)
		}
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal, nil
}
