package orders_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmmarket/go-farm-orders/internal/orders"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to orders.Status }{
		{orders.StatusPending, orders.StatusConfirmed},
		{orders.StatusPending, orders.StatusCancelled},
		{orders.StatusConfirmed, orders.StatusProcessing},
		{orders.StatusConfirmed, orders.StatusCancelled},
		{orders.StatusProcessing, orders.StatusShipped},
		{orders.StatusProcessing, orders.StatusCancelled},
		{orders.StatusShipped, orders.StatusDelivered},
	}
	for _, tc := range allowed {
		assert.True(t, orders.CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to orders.Status }{
		{orders.StatusPending, orders.StatusShipped},
		{orders.StatusPending, orders.StatusDelivered},
		{orders.StatusConfirmed, orders.StatusShipped},
		{orders.StatusShipped, orders.StatusCancelled},
		{orders.StatusShipped, orders.StatusPending},
		{orders.StatusDelivered, orders.StatusConfirmed},
		{orders.StatusDelivered, orders.StatusCancelled},
		{orders.StatusCancelled, orders.StatusPending},
		{orders.StatusCancelled, orders.StatusCancelled},
	}
	for _, tc := range denied {
		assert.False(t, orders.CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestStatusCancellable(t *testing.T) {
	assert.True(t, orders.StatusPending.Cancellable())
	assert.True(t, orders.StatusConfirmed.Cancellable())
	assert.True(t, orders.StatusProcessing.Cancellable())
	assert.False(t, orders.StatusShipped.Cancellable())
	assert.False(t, orders.StatusDelivered.Cancellable())
	assert.False(t, orders.StatusCancelled.Cancellable())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, orders.StatusDelivered.Terminal())
	assert.True(t, orders.StatusCancelled.Terminal())
	assert.False(t, orders.StatusPending.Terminal())
	assert.False(t, orders.StatusShipped.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := orders.ParseStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, s)

	_, err = orders.ParseStatus("in_flight")
	assert.ErrorIs(t, err, orders.ErrInvalidStatus)
}
