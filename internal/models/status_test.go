package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidOrderStatus(t *testing.T) {
	assert.True(t, IsValidOrderStatus(OrderStatusPending))
	assert.True(t, IsValidOrderStatus(OrderStatusShipped))
	assert.False(t, IsValidOrderStatus("perdido"))
	assert.False(t, IsValidOrderStatus(""))
}

func TestCanAdminTransition(t *testing.T) {
	// moves between non-terminal statuses are free, forward or backward
	assert.True(t, CanAdminTransition(OrderStatusPending, OrderStatusShipped))
	assert.True(t, CanAdminTransition(OrderStatusShipped, OrderStatusPending))
	assert.True(t, CanAdminTransition(OrderStatusConfirmed, OrderStatusDelivered))
	assert.True(t, CanAdminTransition(OrderStatusPending, OrderStatusCancelled))

	// terminal statuses are locked
	assert.False(t, CanAdminTransition(OrderStatusDelivered, OrderStatusShipped))
	assert.False(t, CanAdminTransition(OrderStatusCancelled, OrderStatusPending))

	// unknown statuses never transition
	assert.False(t, CanAdminTransition("perdido", OrderStatusPending))
	assert.False(t, CanAdminTransition(OrderStatusPending, "perdido"))
}

func TestIsTerminalOrderStatus(t *testing.T) {
	assert.True(t, IsTerminalOrderStatus(OrderStatusDelivered))
	assert.True(t, IsTerminalOrderStatus(OrderStatusCancelled))
	assert.False(t, IsTerminalOrderStatus(OrderStatusPending))
	assert.False(t, IsTerminalOrderStatus(OrderStatusShipped))
}
