package handler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/restock/internal/adapter/storage"
	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/core/service"
)

const handlerSeedYAML = `
products:
  - {id: X, name: Cola, category: Drinks}
  - {id: Z, name: Chips, category: Snacks}
  - {id: EMPTY, name: Empty}
routes:
  - {id: R1, name: Downtown, driver_id: driver-1}
devices:
  - id: D1
    name: Lobby
    cabinets:
      - index: 0
        slots:
          - {slot: 0, product: X, quantity: 5, capacity: 12, par: 10}
          - {slot: 1, product: EMPTY, quantity: 0, capacity: 5, par: 5}
      - index: 1
        slots:
          - {slot: 0, product: X, quantity: 2, capacity: 8, par: 5}
          - {slot: 1, product: Z, quantity: 0, capacity: 4, par: 2}
`

var (
	cabA = domain.CabinetRef{DeviceID: "D1", CabinetIndex: 0}
	cabB = domain.CabinetRef{DeviceID: "D1", CabinetIndex: 1}
)

type harness struct {
	store  *storage.Store
	engine *service.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seed, err := storage.ParseSeed([]byte(handlerSeedYAML))
	require.NoError(t, err)
	require.NoError(t, store.ApplySeed(ctx, seed))

	cfg := service.DefaultConfig()
	cfg.RetryBackoff = 0
	engine := service.NewEngine(cfg, service.Deps{
		Store:   store,
		Routes:  store,
		Devices: store,
		Logger:  zaptest.NewLogger(t),
	})
	return &harness{store: store, engine: engine}
}

// createOrder places an order for both cabinets and returns it with its cabinet order ids
// in selection order.
func (h *harness) createOrder(t *testing.T) *service.CreateOrderResult {
	t.Helper()
	res, err := h.engine.CreateOrder(context.Background(), service.CreateOrderRequest{
		RouteID:    "R1",
		Selections: []domain.CabinetRef{cabA, cabB},
		CreatedBy:  "dispatcher-1",
	})
	require.NoError(t, err)
	require.Len(t, res.Order.Cabinets, 2)
	return res
}
