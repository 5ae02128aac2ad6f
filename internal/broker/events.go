package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"comercio-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentSucceeded publishes PaymentSucceeded event
func (ep *EventPublisher) PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentRefunded publishes PaymentRefunded event
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishReturnRequested publishes ReturnRequested event
func (ep *EventPublisher) PublishReturnRequested(ctx context.Context, event *models.ReturnRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishReturnResolved publishes ReturnResolved event
func (ep *EventPublisher) PublishReturnResolved(ctx context.Context, event *models.ReturnResolvedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishLowStockAlert publishes LowStockAlert event
func (ep *EventPublisher) PublishLowStockAlert(ctx context.Context, event *models.LowStockAlertEvent) error {
	return ep.producer.PublishEvent(ctx, "low-stock", event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// KafkaNotifier publishes fire-and-forget notification events consumed by
// the notification worker.
type KafkaNotifier struct {
	producer *Producer
}

// NewKafkaNotifier creates a notifier backed by the notifications topic
func NewKafkaNotifier(producer *Producer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

// Notify publishes a notification event
func (n *KafkaNotifier) Notify(ctx context.Context, userID int64, kind, payload string) error {
	event := &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotification,
			Timestamp: time.Now(),
		},
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
	}
	return n.producer.PublishEvent(ctx, fmt.Sprintf("user-%d", userID), event)
}

// EventHandler routes consumed messages to registered handlers
type EventHandler struct {
	onNotification func(context.Context, *models.NotificationEvent) error
	onLowStock     func(context.Context, *models.LowStockAlertEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnNotification registers a handler for Notification events
func (eh *EventHandler) OnNotification(handler func(context.Context, *models.NotificationEvent) error) {
	eh.onNotification = handler
}

// OnLowStockAlert registers a handler for LowStockAlert events
func (eh *EventHandler) OnLowStockAlert(handler func(context.Context, *models.LowStockAlertEvent) error) {
	eh.onLowStock = handler
}

// HandleMessage routes messages to appropriate handlers. Unknown event types
// are acknowledged without effect so the consumer never wedges on them.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeNotification:
		if eh.onNotification != nil {
			var event models.NotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal Notification event: %w", err)
			}
			return eh.onNotification(ctx, &event)
		}

	case models.EventTypeLowStockAlert:
		if eh.onLowStock != nil {
			var event models.LowStockAlertEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LowStockAlert event: %w", err)
			}
			return eh.onLowStock(ctx, &event)
		}
	}

	return nil
}
