package service

import (
	"context"
	"testing"

	"comercio-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustStock(t *testing.T) {
	st := newMemStore()
	publisher := &fakePublisher{}
	svc := NewInventoryService(st, publisher, nil)
	seedProduct(st, 1, "100", false, 1, 5)

	require.NoError(t, svc.AdjustStock(context.Background(), 1, 20))
	inv, err := svc.GetInventory(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 20, inv.StockActual)

	err = svc.AdjustStock(context.Background(), 1, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLowStockAlertsPublishesEvent(t *testing.T) {
	st := newMemStore()
	publisher := &fakePublisher{}
	svc := NewInventoryService(st, publisher, nil)

	st.lowStock = []models.LowStockAlert{
		{ProductID: 1, ProductName: "Cafetera", StockActual: 2, StockMinimum: 5, Deficit: 3},
		{ProductID: 2, ProductName: "Tostadora", StockActual: 0, StockMinimum: 4, Deficit: 4},
	}

	alerts, err := svc.LowStockAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, 3, alerts[0].Deficit)
	assert.Contains(t, publisher.typesSeen(), models.EventTypeLowStockAlert)
}

func TestLowStockAlertsLockGatesPublish(t *testing.T) {
	st := newMemStore()
	publisher := &fakePublisher{}
	locker := &fakeLocker{held: true}
	svc := NewInventoryService(st, publisher, locker)

	st.lowStock = []models.LowStockAlert{
		{ProductID: 1, ProductName: "Cafetera", StockActual: 2, StockMinimum: 5, Deficit: 3},
	}

	// Another instance holds the lock: alerts come back, nothing is published.
	alerts, err := svc.LowStockAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Empty(t, publisher.typesSeen())

	locker.held = false
	_, err = svc.LowStockAlerts(context.Background())
	require.NoError(t, err)
	assert.Contains(t, publisher.typesSeen(), models.EventTypeLowStockAlert)
	assert.Equal(t, 1, locker.releases)
}

func TestLowStockAlertsQuietWhenStocked(t *testing.T) {
	st := newMemStore()
	publisher := &fakePublisher{}
	svc := NewInventoryService(st, publisher, nil)

	alerts, err := svc.LowStockAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, publisher.typesSeen())
}
