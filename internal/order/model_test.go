package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvtien/storefront-backend/internal/order"
)

func TestStockEffect(t *testing.T) {
	tests := []struct {
		name   string
		from   order.OrderStatus
		to     order.OrderStatus
		effect int
	}{
		{name: "pending_to_shipping_debits", from: order.StatusPending, to: order.StatusShipping, effect: -1},
		{name: "shipping_to_pending_credits", from: order.StatusShipping, to: order.StatusPending, effect: 1},
		{name: "pending_to_cancelled_no_effect", from: order.StatusPending, to: order.StatusCancelled, effect: 0},
		{name: "shipping_to_fulfilled_no_effect", from: order.StatusShipping, to: order.StatusFulfilled, effect: 0},
		{name: "pending_to_fulfilled_no_effect", from: order.StatusPending, to: order.StatusFulfilled, effect: 0},
		{name: "fulfilled_to_pending_no_effect_without_revert", from: order.StatusFulfilled, to: order.StatusPending, effect: 0},
		{name: "cancelled_to_shipping_no_effect", from: order.StatusCancelled, to: order.StatusShipping, effect: 0},
		{name: "same_status_no_effect", from: order.StatusShipping, to: order.StatusShipping, effect: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.effect, order.StockEffect(tt.from, tt.to))
		})
	}
}

// Debit and credit must cancel out so a round trip leaves stock unchanged.
func TestStockEffect_Symmetry(t *testing.T) {
	debit := order.StockEffect(order.StatusPending, order.StatusShipping)
	credit := order.StockEffect(order.StatusShipping, order.StatusPending)
	assert.Equal(t, 0, debit+credit)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    order.OrderStatus
		wantErr bool
	}{
		{name: "pending", input: "PENDING", want: order.StatusPending},
		{name: "shipping", input: "SHIPPING", want: order.StatusShipping},
		{name: "cancelled", input: "CANCELLED", want: order.StatusCancelled},
		{name: "fulfilled", input: "FULFILLED", want: order.StatusFulfilled},
		{name: "unknown", input: "DELIVERED", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "lowercase_rejected", input: "pending", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := order.ParseStatus(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, order.ErrUnknownStatus)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
