package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"comercio-service/internal/gateway"
	"comercio-service/internal/models"
	"comercio-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService reconciles orders with the external checkout provider.
// Confirmation only ever arrives through verified webhook events; the service
// never marks a payment exitoso on its own.
type PaymentService struct {
	tx               TxRunner
	payments         PaymentStore
	orders           OrderStore
	gateway          PaymentGateway
	cache            SessionCache
	publisher        EventPublisher
	notifier         Notifier
	renderer         ReceiptRenderer
	currency         string
	receiptThreshold decimal.Decimal
	logger           *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	tx TxRunner,
	payments PaymentStore,
	orders OrderStore,
	gw PaymentGateway,
	cache SessionCache,
	publisher EventPublisher,
	notifier Notifier,
	renderer ReceiptRenderer,
	currency string,
	receiptThreshold decimal.Decimal,
) *PaymentService {
	return &PaymentService{
		tx:               tx,
		payments:         payments,
		orders:           orders,
		gateway:          gw,
		cache:            cache,
		publisher:        publisher,
		notifier:         notifier,
		renderer:         renderer,
		currency:         currency,
		receiptThreshold: receiptThreshold,
		logger:           util.GetLogger(),
	}
}

// StartCheckoutResponse is returned to the caller to redirect the customer
type StartCheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// StartCheckout creates (or reuses) a hosted checkout session for an order.
// Calling it again before the first session expires returns the same session.
func (s *PaymentService) StartCheckout(ctx context.Context, orderID int64) (*StartCheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.StartCheckout")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.Status == models.PaymentStatusSuccess {
		return nil, ErrAlreadyPaid
	}

	if payment == nil {
		payment = &models.Payment{
			OrderID:  orderID,
			Status:   models.PaymentStatusPending,
			Amount:   order.MontoTotal,
			Currency: s.currency,
		}
		if err := s.payments.CreatePayment(ctx, payment); err != nil {
			// A concurrent request may have inserted the row; re-read it.
			existing, readErr := s.payments.GetPaymentByOrderID(ctx, orderID)
			if readErr != nil || existing == nil {
				return nil, fmt.Errorf("failed to create payment: %w", err)
			}
			payment = existing
			if payment.Status == models.PaymentStatusSuccess {
				return nil, ErrAlreadyPaid
			}
		}
	}

	// Reuse the cached session while the provider still reports it open.
	sessionID, url, err := s.cache.GetCheckoutSession(ctx, orderID)
	if err != nil {
		s.logger.Warn("Session cache read failed", zap.Error(err))
	} else if sessionID != "" {
		active, err := s.gateway.SessionActive(ctx, sessionID)
		if err != nil {
			s.logger.Warn("Session liveness check failed", zap.Error(err))
		} else if active {
			util.PaymentSessionsTotal.WithLabelValues("reused").Inc()
			return &StartCheckoutResponse{SessionID: sessionID, URL: url}, nil
		}
	}

	session, err := s.gateway.CreateSession(ctx, &gateway.CreateSessionRequest{
		OrderID:        order.ID,
		PaymentID:      payment.ID,
		TrackingNumber: order.TrackingNumber,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
	})
	if err != nil {
		util.PaymentSessionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if err := s.payments.UpdatePaymentSession(ctx, payment.ID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to persist session id: %w", err)
	}
	if err := s.cache.SetCheckoutSession(ctx, orderID, session.ID, session.URL); err != nil {
		s.logger.Warn("Session cache write failed", zap.Error(err))
	}

	util.PaymentSessionsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Checkout session created",
		zap.Int64("order_id", orderID),
		zap.Int64("payment_id", payment.ID),
		zap.String("session_id", session.ID))

	return &StartCheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}

// HandleWebhook processes a gateway delivery. Verification fails closed;
// unknown event types are acknowledged without side effects so the sender
// never retries them into an error state.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	event, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrBadSignature) {
			util.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
			s.logger.Warn("Webhook rejected: signature mismatch")
			return ErrInvalidSignature
		}
		util.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	switch event.Type {
	case gateway.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case gateway.EventCheckoutExpired:
		return s.handleCheckoutExpired(ctx, event)
	default:
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		s.logger.Info("Ignoring webhook event type", zap.String("type", event.Type))
		return nil
	}
}

// handleCheckoutCompleted applies a verified payment confirmation exactly
// once: replays are dropped by the processed-event ledger, and a payment
// already out of pendiente is left untouched.
func (s *PaymentService) handleCheckoutCompleted(ctx context.Context, event *gateway.Event) error {
	if first, err := s.cache.MarkEventSeen(ctx, event.ID); err != nil {
		s.logger.Warn("Event dedup cache failed, relying on ledger", zap.Error(err))
	} else if !first {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	var (
		payment *models.Payment
		order   *models.Order
		receipt *models.Receipt
		applied bool
	)

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		fresh, err := s.payments.MarkEventProcessedTx(ctx, tx, event.ID, event.Type)
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
		if !fresh {
			return nil
		}

		payment, err = s.payments.GetPaymentByIDTx(ctx, tx, event.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return fmt.Errorf("%w: payment %d", ErrNotFound, event.PaymentID)
		}
		if payment.Status != models.PaymentStatusPending {
			s.logger.Warn("Completed event for non-pending payment, skipping",
				zap.Int64("payment_id", payment.ID),
				zap.String("status", payment.Status))
			return nil
		}

		if err := s.payments.MarkPaymentSucceededTx(ctx, tx, payment.ID, event.IntentID, event.Method); err != nil {
			return fmt.Errorf("failed to mark payment succeeded: %w", err)
		}

		order, err = s.orders.GetOrderByIDTx(ctx, tx, payment.OrderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order %d", ErrNotFound, payment.OrderID)
		}
		if err != nil {
			return err
		}

		if order.Status == models.OrderStatusPending {
			if err := s.orders.UpdateOrderStatusTx(ctx, tx, order.ID, models.OrderStatusConfirmed); err != nil {
				return fmt.Errorf("failed to confirm order: %w", err)
			}
			if err := s.orders.AppendTrackingEntryTx(ctx, tx, &models.TrackingEntry{
				OrderID:        order.ID,
				PreviousStatus: order.Status,
				NewStatus:      models.OrderStatusConfirmed,
				Comment:        "Pago confirmado",
			}); err != nil {
				return err
			}
		}

		receiptType := models.ReceiptTypeBoleta
		if order.MontoTotal.GreaterThan(s.receiptThreshold) {
			receiptType = models.ReceiptTypeFactura
		}
		receipt, err = s.payments.CreateReceiptTx(ctx, tx, &models.Receipt{
			OrderID: order.ID,
			Type:    receiptType,
		})
		if err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		// Nothing committed, so the seen-key must not survive either; a
		// lingering key would classify the gateway's redelivery as a
		// duplicate and the confirmation would be lost.
		if cerr := s.cache.UnmarkEventSeen(ctx, event.ID); cerr != nil {
			s.logger.Error("Failed to clear event dedup key, redeliveries may be dropped",
				zap.String("event_id", event.ID),
				zap.Error(cerr))
		}
		return err
	}
	if !applied {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	util.PaymentsConfirmedTotal.Inc()
	util.ReceiptsIssuedTotal.WithLabelValues(receipt.Type).Inc()

	s.logger.Info("Payment confirmed",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("intent_id", event.IntentID))

	if err := s.cache.DeleteCheckoutSession(ctx, order.ID); err != nil {
		s.logger.Warn("Failed to drop cached session", zap.Error(err))
	}

	s.publishPaymentSucceeded(ctx, order, payment, event.IntentID)

	if err := s.notifier.Notify(ctx, order.UserID, "payment_confirmed", order.TrackingNumber); err != nil {
		s.logger.Error("Failed to send payment notification", zap.Error(err))
	}

	// Rendering runs after commit; a renderer outage must never unwind the
	// confirmed payment.
	if url, err := s.renderer.RenderReceipt(ctx, order, receipt); err != nil {
		s.logger.Error("Receipt rendering failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	} else if err := s.payments.UpdateReceiptURL(ctx, receipt.ID, url); err != nil {
		s.logger.Error("Failed to store receipt URL", zap.Error(err))
	}

	return nil
}

// handleCheckoutExpired marks the payment fallido. The order deliberately
// stays pendiente so the customer can start a fresh session.
func (s *PaymentService) handleCheckoutExpired(ctx context.Context, event *gateway.Event) error {
	var (
		payment *models.Payment
		applied bool
	)

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		fresh, err := s.payments.MarkEventProcessedTx(ctx, tx, event.ID, event.Type)
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
		if !fresh {
			return nil
		}

		payment, err = s.payments.GetPaymentByIDTx(ctx, tx, event.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return fmt.Errorf("%w: payment %d", ErrNotFound, event.PaymentID)
		}
		if payment.Status != models.PaymentStatusPending {
			return nil
		}

		reason := event.Reason
		if reason == "" {
			reason = "checkout session expired"
		}
		if err := s.payments.MarkPaymentFailedTx(ctx, tx, payment.ID, reason); err != nil {
			return fmt.Errorf("failed to mark payment failed: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if !applied {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	util.PaymentsFailedTotal.Inc()

	if err := s.cache.DeleteCheckoutSession(ctx, payment.OrderID); err != nil {
		s.logger.Warn("Failed to drop cached session", zap.Error(err))
	}

	s.logger.Warn("Payment marked failed",
		zap.Int64("payment_id", payment.ID),
		zap.String("reason", event.Reason))

	failedEvent := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Reason:    event.Reason,
	}
	if err := s.publisher.PublishPaymentFailed(ctx, failedEvent); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}

	return nil
}

// Refund moves a successful payment to reembolsado within the caller's
// transaction. Inventory restocking is the return engine's job, not this one.
func (s *PaymentService) Refund(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	if payment.Status != models.PaymentStatusSuccess {
		return fmt.Errorf("%w: payment %d is %s", ErrRefundPrecondition, payment.ID, payment.Status)
	}
	if err := s.payments.MarkPaymentRefundedTx(ctx, tx, payment.ID); err != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	return nil
}

// GetPayment retrieves the payment bound to an order
func (s *PaymentService) GetPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	payment, err := s.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment for order %d", ErrNotFound, orderID)
	}
	return payment, nil
}

// GetReceipt retrieves the receipt issued for an order
func (s *PaymentService) GetReceipt(ctx context.Context, orderID int64) (*models.Receipt, error) {
	receipt, err := s.payments.GetReceiptByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: receipt for order %d", ErrNotFound, orderID)
	}
	return receipt, nil
}

func (s *PaymentService) publishPaymentSucceeded(ctx context.Context, order *models.Order, payment *models.Payment, intentID string) {
	event := &models.PaymentSucceededEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentSucceeded,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		IntentID:  intentID,
	}
	if err := s.publisher.PublishPaymentSucceeded(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentSucceeded event", zap.Error(err))
	}
}
