package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"comercio-service/internal/models"
	"comercio-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ReturnService runs the devolucion workflow: request, review, approve or
// reject, and the refund that follows an approval.
type ReturnService struct {
	tx        TxRunner
	returns   ReturnStore
	orders    OrderStore
	payments  PaymentStore
	paymentSv *PaymentService
	inventory *InventoryService
	publisher EventPublisher
	notifier  Notifier
	logger    *zap.Logger
}

// NewReturnService creates a new return service
func NewReturnService(
	tx TxRunner,
	returns ReturnStore,
	orders OrderStore,
	payments PaymentStore,
	paymentSv *PaymentService,
	inventory *InventoryService,
	publisher EventPublisher,
	notifier Notifier,
) *ReturnService {
	return &ReturnService{
		tx:        tx,
		returns:   returns,
		orders:    orders,
		payments:  payments,
		paymentSv: paymentSv,
		inventory: inventory,
		publisher: publisher,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// Request files a return for one product of an order the user owns. Ownership
// failures surface as not-found so callers cannot probe other users' orders.
func (s *ReturnService) Request(ctx context.Context, userID, orderID, productID int64, reason string) (*models.Return, error) {
	ctx, span := util.StartSpan(ctx, "ReturnService.Request")
	defer span.End()

	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}

	lines, err := s.orders.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, line := range lines {
		if line.ProductID == productID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: product %d is not part of order %d", ErrValidation, productID, orderID)
	}

	ret := &models.Return{
		OrderID:   orderID,
		ProductID: productID,
		Reason:    reason,
		Status:    models.ReturnStatusRequested,
	}
	if err := s.returns.CreateReturn(ctx, ret); err != nil {
		return nil, fmt.Errorf("failed to create return: %w", err)
	}

	s.logger.Info("Return requested",
		zap.Int64("return_id", ret.ID),
		zap.Int64("order_id", orderID),
		zap.Int64("product_id", productID))

	event := &models.ReturnRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReturnRequested,
			Timestamp: time.Now(),
		},
		ReturnID:  ret.ID,
		OrderID:   orderID,
		ProductID: productID,
	}
	if err := s.publisher.PublishReturnRequested(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReturnRequested event", zap.Error(err))
	}

	return ret, nil
}

// StartReview moves a requested return into en_revision
func (s *ReturnService) StartReview(ctx context.Context, returnID int64) error {
	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status != models.ReturnStatusRequested {
		return fmt.Errorf("%w: return %d is %s", ErrWrongState, returnID, ret.Status)
	}
	return s.returns.UpdateReturnStatus(ctx, returnID, models.ReturnStatusInReview)
}

// Approve accepts a return under review and immediately kicks off the refund.
// The approval itself commits first so a refund failure leaves an aprobada
// record an operator can retry.
func (s *ReturnService) Approve(ctx context.Context, returnID int64) error {
	ctx, span := util.StartSpan(ctx, "ReturnService.Approve")
	defer span.End()

	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status != models.ReturnStatusInReview {
		return fmt.Errorf("%w: return %d is %s", ErrWrongState, returnID, ret.Status)
	}
	if err := s.returns.UpdateReturnStatus(ctx, returnID, models.ReturnStatusApproved); err != nil {
		return err
	}

	s.publishResolved(ctx, ret, models.ReturnStatusApproved)

	if err := s.ProcessRefund(ctx, returnID); err != nil {
		s.logger.Error("Refund after approval failed",
			zap.Int64("return_id", returnID),
			zap.Error(err))
		return err
	}
	return nil
}

// Reject declines a return under review and appends the rejection note to the
// stored reason.
func (s *ReturnService) Reject(ctx context.Context, returnID int64, rejectionReason string) error {
	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status != models.ReturnStatusInReview {
		return fmt.Errorf("%w: return %d is %s", ErrWrongState, returnID, ret.Status)
	}
	if err := s.returns.UpdateReturnStatus(ctx, returnID, models.ReturnStatusRejected); err != nil {
		return err
	}
	if rejectionReason != "" {
		note := fmt.Sprintf("\n\nRechazado: %s", rejectionReason)
		if err := s.returns.AppendReturnReason(ctx, returnID, note); err != nil {
			s.logger.Error("Failed to append rejection note", zap.Error(err))
		}
	}

	s.publishResolved(ctx, ret, models.ReturnStatusRejected)
	s.notifyOwner(ctx, ret.OrderID, "return_rejected", fmt.Sprintf("return-%d", returnID))
	return nil
}

// ProcessRefund settles an approved return: the payment flips to reembolsado,
// stock goes back on the shelf, and the return closes as reembolsada, all in
// one transaction. Re-running it on an already refunded return is a no-op so
// operator retries are safe.
func (s *ReturnService) ProcessRefund(ctx context.Context, returnID int64) error {
	ctx, span := util.StartSpan(ctx, "ReturnService.ProcessRefund")
	defer span.End()

	var (
		ret     *models.Return
		payment *models.Payment
		applied bool
	)

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		ret, err = s.returns.GetReturnByIDTx(ctx, tx, returnID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: return %d", ErrNotFound, returnID)
		}
		if err != nil {
			return err
		}
		if ret.Status == models.ReturnStatusRefunded {
			return nil
		}
		if ret.Status != models.ReturnStatusApproved {
			return fmt.Errorf("%w: return %d is %s", ErrWrongState, returnID, ret.Status)
		}

		payment, err = s.payments.GetPaymentByOrderIDTx(ctx, tx, ret.OrderID)
		if err != nil {
			return err
		}
		if payment == nil {
			return fmt.Errorf("%w: order %d has no payment", ErrRefundPrecondition, ret.OrderID)
		}

		line, err := s.orders.GetOrderLineTx(ctx, tx, ret.OrderID, ret.ProductID)
		if err != nil {
			return err
		}
		if line == nil {
			return fmt.Errorf("%w: product %d no longer on order %d", ErrRefundPrecondition, ret.ProductID, ret.OrderID)
		}

		if err := s.paymentSv.Refund(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.inventory.Increase(ctx, tx, ret.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("failed to restock product %d: %w", ret.ProductID, err)
		}
		if err := s.returns.UpdateReturnStatusTx(ctx, tx, returnID, models.ReturnStatusRefunded); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		util.RefundsFailedTotal.WithLabelValues(refundFailureReason(err)).Inc()
		return err
	}
	if !applied {
		return nil
	}

	util.RefundsTotal.Inc()
	s.logger.Info("Refund processed",
		zap.Int64("return_id", returnID),
		zap.Int64("payment_id", payment.ID),
		zap.String("amount", payment.Amount.String()))

	refundEvent := &models.PaymentRefundedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentRefunded,
			Timestamp: time.Now(),
		},
		OrderID:   ret.OrderID,
		PaymentID: payment.ID,
		ReturnID:  returnID,
		Amount:    payment.Amount,
	}
	if err := s.publisher.PublishPaymentRefunded(ctx, refundEvent); err != nil {
		s.logger.Error("Failed to publish PaymentRefunded event", zap.Error(err))
	}

	s.publishResolved(ctx, ret, models.ReturnStatusRefunded)
	s.notifyOwner(ctx, ret.OrderID, "return_refunded", fmt.Sprintf("return-%d", returnID))
	return nil
}

// GetReturn retrieves a return by ID
func (s *ReturnService) GetReturn(ctx context.Context, returnID int64) (*models.Return, error) {
	return s.getReturn(ctx, returnID)
}

// ListOrderReturns lists the returns filed against an order
func (s *ReturnService) ListOrderReturns(ctx context.Context, orderID int64) ([]models.Return, error) {
	return s.returns.GetReturnsByOrderID(ctx, orderID)
}

func (s *ReturnService) getReturn(ctx context.Context, returnID int64) (*models.Return, error) {
	ret, err := s.returns.GetReturnByID(ctx, returnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: return %d", ErrNotFound, returnID)
	}
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *ReturnService) notifyOwner(ctx context.Context, orderID int64, kind, payload string) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to load order for notification", zap.Error(err))
		return
	}
	if err := s.notifier.Notify(ctx, order.UserID, kind, payload); err != nil {
		s.logger.Error("Failed to send notification", zap.Error(err))
	}
}

func (s *ReturnService) publishResolved(ctx context.Context, ret *models.Return, status string) {
	event := &models.ReturnResolvedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReturnResolved,
			Timestamp: time.Now(),
		},
		ReturnID: ret.ID,
		OrderID:  ret.OrderID,
		Status:   status,
	}
	if err := s.publisher.PublishReturnResolved(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReturnResolved event", zap.Error(err))
	}
}

func refundFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrRefundPrecondition):
		return "precondition"
	case errors.Is(err, ErrWrongState):
		return "wrong_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
