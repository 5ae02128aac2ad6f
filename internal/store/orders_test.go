package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	uniqueErr := &pq.Error{Code: "23505", Constraint: "orders_tracking_number_key"}

	assert.True(t, IsUniqueViolation(uniqueErr))
	// wrapped errors must still be recognized, checkout wraps before checking
	assert.True(t, IsUniqueViolation(fmt.Errorf("failed to create order: %w", uniqueErr)))

	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("some other error")))
	assert.False(t, IsUniqueViolation(nil))
}
