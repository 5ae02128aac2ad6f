package service

import (
	"context"
	"testing"

	"comercio-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartFixture() (*memStore, *CartService) {
	st := newMemStore()
	return st, NewCartService(st, st, st)
}

func TestGetCreatesCartOnFirstAccess(t *testing.T) {
	_, svc := newCartFixture()

	cart, lines, err := svc.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cart.UserID)
	assert.Empty(t, lines)

	again, _, err := svc.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID)
}

func TestAddItemAccumulatesQuantity(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)

	line, err := svc.AddItem(context.Background(), 7, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	line, err = svc.AddItem(context.Background(), 7, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, line.Quantity)

	_, lines, err := svc.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, lines, 1)
}

func TestAddItemValidation(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)

	_, err := svc.AddItem(context.Background(), 7, 1, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.AddItem(context.Background(), 7, 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddItemRejectsInactiveProduct(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)
	st.products[1].Status = models.ProductStatusSoldOut

	_, err := svc.AddItem(context.Background(), 7, 1, 1)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)

	_, err := svc.AddItem(context.Background(), 7, 1, 2)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateQuantity(context.Background(), 7, 1, 0))

	_, lines, err := svc.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestUpdateQuantityMissingLine(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)

	_, err := svc.AddItem(context.Background(), 7, 1, 1)
	require.NoError(t, err)

	err = svc.UpdateQuantity(context.Background(), 7, 99, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubtotalUsesCurrentCatalogPrices(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)
	seedProduct(st, 2, "50", false, 1, 10)
	// the shelf price differs from the list price; the cart shows the shelf one
	st.products[1].Price = decimal.RequireFromString("90")

	_, err := svc.AddItem(context.Background(), 7, 1, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), 7, 2, 1)
	require.NoError(t, err)

	subtotal, err := svc.Subtotal(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, subtotal.Equal(decimal.RequireFromString("230")), "subtotal = %s", subtotal)
}

func TestSubtotalEmptyCart(t *testing.T) {
	_, svc := newCartFixture()

	subtotal, err := svc.Subtotal(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, subtotal.IsZero())
}

func TestClearCart(t *testing.T) {
	st, svc := newCartFixture()
	seedProduct(st, 1, "100", false, 1, 10)

	_, err := svc.AddItem(context.Background(), 7, 1, 2)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(context.Background(), 7))

	_, lines, err := svc.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
