package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderWith(status OrderStatus, executed ...bool) ServiceOrder {
	o := ServiceOrder{ID: "o-1", Status: status}
	for _, e := range executed {
		o.Cabinets = append(o.Cabinets, ServiceOrderCabinet{Executed: e})
	}
	return o
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name     string
		current  OrderStatus
		executed int
		total    int
		want     OrderStatus
	}{
		{"pending untouched", OrderStatusPending, 0, 3, OrderStatusPending},
		{"first execution", OrderStatusPending, 1, 3, OrderStatusInProgress},
		{"all executed", OrderStatusInProgress, 3, 3, OrderStatusCompleted},
		{"single cabinet straight to completed", OrderStatusPending, 1, 1, OrderStatusCompleted},
		{"rollback from completed", OrderStatusCompleted, 2, 3, OrderStatusInProgress},
		{"rollback of only executed cabinet", OrderStatusCompleted, 0, 1, OrderStatusInProgress},
		{"manual start stays in progress", OrderStatusInProgress, 0, 2, OrderStatusInProgress},
		{"cancelled is sticky", OrderStatusCancelled, 3, 3, OrderStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recompute(tt.current, tt.executed, tt.total))
		})
	}
}

func TestCheckTransition_Allowed(t *testing.T) {
	assert.NoError(t, CheckTransition(orderWith(OrderStatusPending, false), OrderStatusInProgress))
	assert.NoError(t, CheckTransition(orderWith(OrderStatusPending, false), OrderStatusCancelled))
	assert.NoError(t, CheckTransition(orderWith(OrderStatusInProgress, true, false), OrderStatusCancelled))
	assert.NoError(t, CheckTransition(orderWith(OrderStatusInProgress, true, true), OrderStatusCompleted))
}

func TestCheckTransition_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		order ServiceOrder
		to    OrderStatus
	}{
		{"pending to completed skips execution", orderWith(OrderStatusPending, false), OrderStatusCompleted},
		{"in progress to completed with open cabinet", orderWith(OrderStatusInProgress, true, false), OrderStatusCompleted},
		{"completed back to in progress", orderWith(OrderStatusCompleted, true), OrderStatusInProgress},
		{"completed to cancelled", orderWith(OrderStatusCompleted, true), OrderStatusCancelled},
		{"cancelled to pending", orderWith(OrderStatusCancelled, false), OrderStatusPending},
		{"cancelled to in progress", orderWith(OrderStatusCancelled, false), OrderStatusInProgress},
		{"same state", orderWith(OrderStatusPending, false), OrderStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.order, tt.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.order.Status, de.Current)
			assert.Equal(t, tt.to, de.Requested)
		})
	}
}

func TestCheckTransition_UnknownStatus(t *testing.T) {
	err := CheckTransition(orderWith(OrderStatusPending), OrderStatus("shipped"))
	assert.ErrorIs(t, err, ErrValidation)
}
