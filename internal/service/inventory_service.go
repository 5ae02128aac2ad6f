package service

import (
	"context"
	"fmt"
	"time"

	"comercio-service/internal/models"
	"comercio-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// InventoryService is the stock ledger. All decrement paths go through Reduce
// so the check-and-decrement stays a single atomic unit; stock is only ever
// restored through the return workflow or an explicit admin adjustment.
type InventoryService struct {
	store     InventoryStore
	publisher EventPublisher
	locker    AlertLocker
	logger    *zap.Logger
}

// NewInventoryService creates a new inventory service. locker may be nil,
// in which case low-stock scans are not serialized across instances.
func NewInventoryService(store InventoryStore, publisher EventPublisher, locker AlertLocker) *InventoryService {
	return &InventoryService{
		store:     store,
		publisher: publisher,
		locker:    locker,
		logger:    util.GetLogger(),
	}
}

// Reduce decrements stock for a product within the caller's transaction.
// Returns InsufficientStockError when stock does not cover the quantity.
func (s *InventoryService) Reduce(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	if err := s.store.ReduceStockTx(ctx, tx, productID, quantity); err != nil {
		if IsInsufficientStock(err) {
			util.StockReductionsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.StockReductionsFailedTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	return nil
}

// Increase increments stock for a product within the caller's transaction
func (s *InventoryService) Increase(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return s.store.IncreaseStockTx(ctx, tx, productID, quantity)
}

// CheckAvailability reports whether stock covers the requested quantity
func (s *InventoryService) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	return s.store.CheckAvailability(ctx, productID, quantity)
}

// GetInventory retrieves the inventory row for a product
func (s *InventoryService) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	return s.store.GetInventory(ctx, productID)
}

// AdjustStock sets an absolute stock level (admin adjustment)
func (s *InventoryService) AdjustStock(ctx context.Context, productID int64, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: stock cannot be negative", ErrValidation)
	}

	if err := s.store.SetStock(ctx, productID, quantity); err != nil {
		return err
	}

	s.logger.Info("Stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("stock_actual", quantity))
	return nil
}

// LowStockAlerts returns every product at or below its reorder threshold with
// its deficit, and publishes an alert event when any exist.
func (s *InventoryService) LowStockAlerts(ctx context.Context) ([]models.LowStockAlert, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.LowStockAlerts")
	defer span.End()

	alerts, err := s.store.GetLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read low stock: %w", err)
	}
	if len(alerts) == 0 {
		return alerts, nil
	}

	util.LowStockAlertsTotal.Add(float64(len(alerts)))

	// Only one instance fans the alert out to the topic; the scan result is
	// still returned to the caller either way.
	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, "low_stock_alerts", time.Minute)
		if err != nil {
			s.logger.Warn("Low-stock alert lock failed, publishing anyway", zap.Error(err))
		} else if !acquired {
			return alerts, nil
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(ctx, "low_stock_alerts"); err != nil {
					s.logger.Warn("Failed to release low-stock alert lock", zap.Error(err))
				}
			}()
		}
	}

	event := &models.LowStockAlertEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeLowStockAlert,
			Timestamp: time.Now(),
		},
		Alerts: alerts,
	}
	if err := s.publisher.PublishLowStockAlert(ctx, event); err != nil {
		s.logger.Error("Failed to publish LowStockAlert event", zap.Error(err))
	}

	return alerts, nil
}
