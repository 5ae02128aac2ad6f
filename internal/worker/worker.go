package worker

import (
	"context"

	"comercio-service/internal/broker"
	"comercio-service/internal/models"
	"comercio-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker drains the notifications topic and delivers each message
// to the user-facing channel. Delivery here is best effort; the workflows that
// emitted the events have already committed.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	eventHandler.OnNotification(func(ctx context.Context, event *models.NotificationEvent) error {
		// Downstream delivery (mail, push) plugs in here; for now the worker
		// records the delivery in the log stream.
		logger.Info("Notification delivered",
			zap.Int64("user_id", event.UserID),
			zap.String("kind", event.Kind),
			zap.String("payload", event.Payload))
		return nil
	})

	eventHandler.OnLowStockAlert(func(ctx context.Context, event *models.LowStockAlertEvent) error {
		for _, alert := range event.Alerts {
			logger.Warn("Low stock alert",
				zap.Int64("product_id", alert.ProductID),
				zap.Int("stock_actual", alert.StockActual),
				zap.Int("deficit", alert.Deficit))
		}
		return nil
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
