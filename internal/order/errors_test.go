package order_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvtien/storefront-backend/internal/order"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, order.IsRetryable(order.ErrTxConflict))
	assert.True(t, order.IsRetryable(order.ErrStoreUnavailable))
	assert.True(t, order.IsRetryable(fmt.Errorf("repository: commit: %w", order.ErrTxConflict)))

	assert.False(t, order.IsRetryable(order.ErrOrderNotFound))
	assert.False(t, order.IsRetryable(order.ErrOrderNotFulfilled))
	assert.False(t, order.IsRetryable(order.ErrUnauthorized))
	assert.False(t, order.IsRetryable(nil))
}
