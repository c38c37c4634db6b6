package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/restock/internal/core/domain"
)

// ErrOptimisticLock is returned when a version-guarded write lost a race. The whole unit
// of work should be retried.
var ErrOptimisticLock = errors.New("optimistic lock conflict")

// Store runs units of work. Every write made through the Tx passed to fn commits or
// rolls back together.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	InventoryLedger
	OrderRepository
	SyncAuditLog
}

type InventoryLedger interface {
	// Planogram returns the cabinet's slots ordered by slot index, or nil when the
	// cabinet has no slot configuration. forUpdate locks the slot rows where supported.
	Planogram(ctx context.Context, ref domain.CabinetRef, forUpdate bool) (*domain.Planogram, error)

	// SetSlotQuantity writes a new quantity if the slot version still matches slot.Version
	SetSlotQuantity(ctx context.Context, ref domain.CabinetRef, slot domain.Slot, quantity int) error
}

type OrderRepository interface {
	// InsertOrder persists the order with its cabinet orders and items
	InsertOrder(ctx context.Context, order domain.ServiceOrder) error

	// GetOrder loads an order with cabinets, items and visits; nil when absent
	GetOrder(ctx context.Context, orderID string) (*domain.ServiceOrder, error)

	// ListOrders returns orders (with cabinets) in any of the given statuses, all when empty
	ListOrders(ctx context.Context, statuses []domain.OrderStatus) ([]domain.ServiceOrder, error)

	// GetCabinetOrder loads one cabinet order with its items and visit; nil when absent
	GetCabinetOrder(ctx context.Context, cabinetOrderID string, forUpdate bool) (*domain.ServiceOrderCabinet, error)

	// UpdateOrder writes status and modification stamps with version check for optimistic locking
	UpdateOrder(ctx context.Context, order domain.ServiceOrder) error

	// ClaimCabinetOrder flips executed 0 -> 1; returns domain.ErrAlreadyExecuted when it was already set
	ClaimCabinetOrder(ctx context.Context, cabinetOrderID, visitID, actorID string, at time.Time) error

	// ReleaseCabinetOrder flips executed 1 -> 0; returns domain.ErrNotExecuted when it was not set
	ReleaseCabinetOrder(ctx context.Context, cabinetOrderID, actorID string, at time.Time) error

	InsertVisit(ctx context.Context, visit domain.ServiceVisit) error

	// DeleteVisit removes the visit and its delivered items
	DeleteVisit(ctx context.Context, visitID string) error
}

type SyncAuditLog interface {
	RecordSyncOutcome(ctx context.Context, entry domain.SyncAuditEntry) error
}
