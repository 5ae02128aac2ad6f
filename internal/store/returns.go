package store

import (
	"context"

	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateReturn inserts a new devolucion in solicitada state
func (s *Store) CreateReturn(ctx context.Context, ret *models.Return) error {
	query := `
		INSERT INTO returns (order_id, product_id, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, requested_at`

	return s.db.GetContext(ctx, ret, query,
		ret.OrderID, ret.ProductID, ret.Reason, ret.Status)
}

// GetReturnByID retrieves a return by ID
func (s *Store) GetReturnByID(ctx context.Context, id int64) (*models.Return, error) {
	var ret models.Return
	if err := s.db.GetContext(ctx, &ret, "SELECT * FROM returns WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &ret, nil
}

// GetReturnByIDTx retrieves a return with a row lock so a refund cannot be
// processed twice concurrently.
func (s *Store) GetReturnByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Return, error) {
	var ret models.Return
	if err := tx.GetContext(ctx, &ret, "SELECT * FROM returns WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &ret, nil
}

// GetReturnsByOrderID retrieves returns filed against an order
func (s *Store) GetReturnsByOrderID(ctx context.Context, orderID int64) ([]models.Return, error) {
	var rets []models.Return
	err := s.db.SelectContext(ctx, &rets,
		"SELECT * FROM returns WHERE order_id = $1 ORDER BY requested_at DESC", orderID)
	return rets, err
}

// UpdateReturnStatus moves a return through its review workflow
func (s *Store) UpdateReturnStatus(ctx context.Context, returnID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE returns SET status = $1 WHERE id = $2", status, returnID)
	return err
}

// UpdateReturnStatusTx updates a return's status within the caller's transaction
func (s *Store) UpdateReturnStatusTx(ctx context.Context, tx *sqlx.Tx, returnID int64, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE returns SET status = $1, resolved_at = NOW() WHERE id = $2", status, returnID)
	return err
}

// AppendReturnReason appends rejection text to the stored motive
func (s *Store) AppendReturnReason(ctx context.Context, returnID int64, text string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE returns SET reason = reason || $1 WHERE id = $2", text, returnID)
	return err
}
