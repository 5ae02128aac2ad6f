package store

import (
	"context"
	"database/sql"
	"fmt"

	"comercio-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreatePayment inserts a pending payment for an order. The one-to-one
// constraint on order_id makes a second insert fail, which callers treat as
// "already exists" and re-read.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, status, amount, currency, gateway_session_id, method)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.Status, payment.Amount, payment.Currency,
		payment.GatewaySessionID, payment.Method)
}

// GetPaymentByOrderID retrieves the payment bound to an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByID retrieves a payment by its internal ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByIDTx retrieves a payment with a row lock so concurrent webhook
// deliveries for the same payment serialize.
func (s *Store) GetPaymentByIDTx(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrderIDTx retrieves an order's payment with a row lock
func (s *Store) GetPaymentByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentSession stores a freshly created gateway session id
func (s *Store) UpdatePaymentSession(ctx context.Context, paymentID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET gateway_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, paymentID)
	return err
}

// ReconcilePaymentAmountTx repoints a pending payment at a new order total
// and clears the stale gateway session so the next checkout mints a fresh one.
func (s *Store) ReconcilePaymentAmountTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE payments SET amount = $1, gateway_session_id = '', updated_at = NOW() WHERE id = $2",
		amount, paymentID)
	return err
}

// MarkPaymentSucceededTx records a verified gateway confirmation
func (s *Store) MarkPaymentSucceededTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, intentID, method string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, gateway_intent_id = $2, method = $3, paid_at = NOW(), updated_at = NOW()
		WHERE id = $4`,
		models.PaymentStatusSuccess, intentID, method, paymentID)
	return err
}

// MarkPaymentFailedTx records a failed or expired checkout session
func (s *Store) MarkPaymentFailedTx(ctx context.Context, tx *sqlx.Tx, paymentID int64, reason string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3",
		models.PaymentStatusFailed, reason, paymentID)
	return err
}

// MarkPaymentRefundedTx moves a successful payment to reembolsado
func (s *Store) MarkPaymentRefundedTx(ctx context.Context, tx *sqlx.Tx, paymentID int64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		models.PaymentStatusRefunded, paymentID)
	return err
}

// CreateReceiptTx issues a receipt for an order if none exists yet and
// returns the stored row either way.
func (s *Store) CreateReceiptTx(ctx context.Context, tx *sqlx.Tx, receipt *models.Receipt) (*models.Receipt, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO receipts (order_id, type, pdf_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING`,
		receipt.OrderID, receipt.Type, receipt.PDFURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}

	var stored models.Receipt
	if err := tx.GetContext(ctx, &stored,
		"SELECT * FROM receipts WHERE order_id = $1", receipt.OrderID); err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetReceiptByOrderID retrieves the receipt issued for an order
func (s *Store) GetReceiptByOrderID(ctx context.Context, orderID int64) (*models.Receipt, error) {
	var receipt models.Receipt
	err := s.db.GetContext(ctx, &receipt,
		"SELECT * FROM receipts WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UpdateReceiptURL stores the rendered document URL after the fact
func (s *Store) UpdateReceiptURL(ctx context.Context, receiptID int64, url string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE receipts SET pdf_url = $1 WHERE id = $2", url, receiptID)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessedTx marks an event as processed inside the same
// transaction that applies its effects, so replay protection commits with them.
func (s *Store) MarkEventProcessedTx(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
