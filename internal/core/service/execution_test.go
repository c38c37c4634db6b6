package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/restock/internal/core/domain"
)

func deliveries(pairs ...any) []domain.ItemDelivery {
	out := make([]domain.ItemDelivery, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.ItemDelivery{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func TestExecute_StocksCabinetAndAdvancesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA, cabB)
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, res.OrderStatus)
	assert.Equal(t, 5, res.TotalUnits)
	assert.Equal(t, 0, res.Clamped)
	assert.Equal(t, domain.VisitDurationMinutes, res.Visit.DurationMinutes)
	assert.Equal(t, "driver-1", res.Visit.ExecutedBy)

	assert.Equal(t, map[int]int{0: 10, 1: 10, 2: 0}, f.store.quantities(cabA))
	f.assertStatusMatchesCabinets(t, order.ID)

	stored := f.store.order(order.ID)
	co := stored.Cabinets[0]
	assert.True(t, co.Executed)
	assert.Equal(t, res.Visit.ID, co.VisitID)
	assert.Equal(t, "driver-1", co.ModifiedBy)
	assert.Equal(t, "driver-1", stored.ModifiedBy)

	res, err = f.engine.Execute(ctx, order.Cabinets[1].ID, deliveries("X", 3, "Z", 2), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, res.OrderStatus)
	f.assertStatusMatchesCabinets(t, order.ID)

	assert.Equal(t, []domain.EventType{
		domain.EventOrderCreated,
		domain.EventCabinetExecuted,
		domain.EventOrderStatusChanged,
		domain.EventCabinetExecuted,
		domain.EventOrderStatusChanged,
	}, f.events.types())
}

func TestExecute_RollbackRestoresInventory(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA, cabB)
	ctx := context.Background()
	beforeA := f.store.quantities(cabA)
	beforeB := f.store.quantities(cabB)

	_, err := f.engine.Execute(ctx, order.Cabinets[1].ID, deliveries("X", 3, "Z", 2), "driver-1")
	require.NoError(t, err)
	assert.NotEqual(t, beforeB, f.store.quantities(cabB))

	res, err := f.engine.Rollback(ctx, order.Cabinets[1].ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 5, res.RestoredUnits)
	assert.Equal(t, beforeA, f.store.quantities(cabA))
	assert.Equal(t, beforeB, f.store.quantities(cabB))

	co := f.store.order(order.ID).Cabinets[1]
	assert.False(t, co.Executed)
	assert.Empty(t, co.VisitID)
	assert.Nil(t, co.Visit)
	f.assertStatusMatchesCabinets(t, order.ID)

	// executable again after rollback
	_, err = f.engine.Execute(ctx, order.Cabinets[1].ID, deliveries("Z", 1), "driver-1")
	require.NoError(t, err)
}

func TestExecute_ClampedDeliveryRollsBackToOriginal(t *testing.T) {
	f := newFixture(t)
	f.store.setSlots(cabA, domain.Slot{Index: 0, Product: productX, Quantity: 8, Capacity: 10, ParLevel: 10})
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalUnits)
	assert.Equal(t, 3, res.Clamped)
	require.Len(t, res.Visit.Items, 1)
	assert.Equal(t, 5, res.Visit.Items[0].Requested)
	assert.Equal(t, 2, res.Visit.Items[0].Applied)
	assert.Equal(t, map[int]int{0: 10}, f.store.quantities(cabA))

	_, err = f.engine.Rollback(ctx, order.Cabinets[0].ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 8}, f.store.quantities(cabA))
}

func TestExecute_FillsSlotsInOrder(t *testing.T) {
	f := newFixture(t)
	f.store.setSlots(cabA,
		domain.Slot{Index: 0, Product: productX, Quantity: 4, Capacity: 5, ParLevel: 5},
		domain.Slot{Index: 1, Product: productY, Quantity: 0, Capacity: 5, ParLevel: 5},
		domain.Slot{Index: 2, Product: productX, Quantity: 0, Capacity: 5, ParLevel: 5},
	)
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 4), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 5, 1: 0, 2: 3}, f.store.quantities(cabA))
	assert.Equal(t, []domain.SlotAllocation{{SlotIndex: 0, Quantity: 1}, {SlotIndex: 2, Quantity: 3}}, res.Visit.Items[0].Allocations)

	_, err = f.engine.Rollback(ctx, order.Cabinets[0].ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 4, 1: 0, 2: 0}, f.store.quantities(cabA))
}

func TestRollback_FloorsAtZero(t *testing.T) {
	f := newFixture(t)
	f.store.setSlots(cabA, domain.Slot{Index: 0, Product: productX, Quantity: 0, Capacity: 10, ParLevel: 6})
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 6), "driver-1")
	require.NoError(t, err)

	// units sold between execution and rollback
	slots := f.store.slotsOf(cabA)
	slots[0].Quantity = 2
	f.store.setSlots(cabA, slots...)

	res, err := f.engine.Rollback(ctx, order.Cabinets[0].ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RestoredUnits)
	assert.Equal(t, map[int]int{0: 0}, f.store.quantities(cabA))
}

func TestExecute_SecondCallIsRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.NoError(t, err)
	after := f.store.quantities(cabA)
	visitID := f.store.order(order.ID).Cabinets[0].VisitID

	_, err = f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.Equal(t, after, f.store.quantities(cabA))
	assert.Equal(t, visitID, f.store.order(order.ID).Cabinets[0].VisitID)
}

func TestExecute_ConcurrentCallsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 1), "driver-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case domain.CodeOf(err) == domain.CodeAlreadyExecuted:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 6, f.store.quantities(cabA)[0])
}

func TestExecute_CancelledOrderIsTerminal(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA, cabB)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.NoError(t, err)
	_, err = f.engine.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, "dispatcher")
	require.NoError(t, err)
	before := f.store.quantities(cabB)

	_, err = f.engine.Execute(ctx, order.Cabinets[1].ID, deliveries("X", 3), "driver-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.engine.Rollback(ctx, order.Cabinets[0].ID, "driver-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, before, f.store.quantities(cabB))
	assert.Equal(t, domain.OrderStatusCancelled, f.store.order(order.ID).Status)
}

func TestExecute_CompletedOrderReopensOnRollback(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, res.OrderStatus)

	rb, err := f.engine.Rollback(ctx, order.Cabinets[0].ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, rb.OrderStatus)
	f.assertStatusMatchesCabinets(t, order.ID)
}

func TestExecute_InvalidDeliveryLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name    string
		items   []domain.ItemDelivery
		wantErr error
	}{
		{"no items", nil, domain.ErrValidation},
		{"negative quantity", deliveries("X", -1), domain.ErrValidation},
		{"duplicate product", deliveries("X", 1, "X", 2), domain.ErrValidation},
		{"product not in planogram", deliveries("X", 2, "Q", 1), domain.ErrValidation},
		{"sentinel product", deliveries(DefaultSentinelProductID, 1), domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := f.createOrder(t, cabA)
			before := f.store.quantities(cabA)

			_, err := f.engine.Execute(context.Background(), order.Cabinets[0].ID, tt.items, "driver-1")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.store.quantities(cabA))
			assert.False(t, f.store.order(order.ID).Cabinets[0].Executed)
			assert.Equal(t, domain.OrderStatusPending, f.store.order(order.ID).Status)
		})
	}
}

func TestExecute_StorageFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	before := f.store.quantities(cabA)
	f.store.fail("InsertVisit", errInjected)

	_, err := f.engine.Execute(context.Background(), order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, before, f.store.quantities(cabA))
	co := f.store.order(order.ID).Cabinets[0]
	assert.False(t, co.Executed)
	assert.Empty(t, co.VisitID)
}

func TestExecute_RetriesOptimisticLockConflict(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	f.store.mu.Lock()
	f.store.optimisticFailures = 2
	txBefore := f.store.txCount
	f.store.mu.Unlock()

	_, err := f.engine.Execute(context.Background(), order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 10, f.store.quantities(cabA)[0])

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, 3, f.store.txCount-txBefore)
}

func TestExecute_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	f.store.mu.Lock()
	f.store.optimisticFailures = 100
	f.store.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.engine.Execute(ctx, order.Cabinets[0].ID, deliveries("X", 5), "driver-1")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 5, f.store.quantities(cabA)[0])
}

func TestRollback_Errors(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, cabA)
	ctx := context.Background()

	_, err := f.engine.Rollback(ctx, order.Cabinets[0].ID, "driver-1")
	assert.ErrorIs(t, err, domain.ErrNotExecuted)

	_, err = f.engine.Rollback(ctx, "missing", "driver-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.Execute(ctx, "missing", deliveries("X", 1), "driver-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
