package service

import (
	"context"
	"fmt"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

// deliver adds delivered quantities to the cabinet's slots. A product spread over
// several slots fills them in slot order; whatever does not fit under capacity is
// clamped and left out of the recorded allocations.
func deliver(ctx context.Context, ledger port.InventoryLedger, ref domain.CabinetRef, items []domain.ItemDelivery, sentinel string) ([]domain.DeliveredItem, error) {
	pg, err := ledger.Planogram(ctx, ref, true)
	if err != nil {
		return nil, fmt.Errorf("load planogram: %w", err)
	}
	if pg == nil || len(pg.Slots) == 0 {
		return nil, domain.ConfigurationNotFound(ref)
	}
	slots := append([]domain.Slot(nil), pg.Slots...)

	delivered := make([]domain.DeliveredItem, 0, len(items))
	for _, item := range items {
		if item.ProductID == sentinel {
			return nil, domain.Validationf("product %s cannot be delivered", item.ProductID)
		}
		di := domain.DeliveredItem{ProductID: item.ProductID, Requested: item.Quantity}
		remaining := item.Quantity
		stocked := false

		for i := range slots {
			if slots[i].Product.ID != item.ProductID {
				continue
			}
			stocked = true
			add := min(remaining, slots[i].Room())
			if add <= 0 {
				continue
			}
			if err := ledger.SetSlotQuantity(ctx, ref, slots[i], slots[i].Quantity+add); err != nil {
				return nil, fmt.Errorf("stock slot %d: %w", slots[i].Index, err)
			}
			slots[i].Quantity += add
			slots[i].Version++
			remaining -= add
			di.Applied += add
			di.Allocations = append(di.Allocations, domain.SlotAllocation{SlotIndex: slots[i].Index, Quantity: add})
		}
		if !stocked {
			return nil, domain.Validationf("product %s is not stocked in cabinet %s", item.ProductID, ref)
		}
		delivered = append(delivered, di)
	}
	return delivered, nil
}

// reverse subtracts exactly the recorded allocations. Quantities floor at zero.
func reverse(ctx context.Context, ledger port.InventoryLedger, ref domain.CabinetRef, items []domain.DeliveredItem) (int, error) {
	pg, err := ledger.Planogram(ctx, ref, true)
	if err != nil {
		return 0, fmt.Errorf("load planogram: %w", err)
	}
	if pg == nil || len(pg.Slots) == 0 {
		return 0, domain.ConfigurationNotFound(ref)
	}
	slots := append([]domain.Slot(nil), pg.Slots...)

	restored := 0
	for _, item := range items {
		for _, alloc := range item.Allocations {
			i := slotPosition(slots, alloc.SlotIndex)
			if i < 0 {
				return 0, domain.ConfigurationNotFound(ref)
			}
			qty := max(slots[i].Quantity-alloc.Quantity, 0)
			if err := ledger.SetSlotQuantity(ctx, ref, slots[i], qty); err != nil {
				return 0, fmt.Errorf("unstock slot %d: %w", slots[i].Index, err)
			}
			restored += slots[i].Quantity - qty
			slots[i].Quantity = qty
			slots[i].Version++
		}
	}
	return restored, nil
}

func slotPosition(slots []domain.Slot, index int) int {
	for i := range slots {
		if slots[i].Index == index {
			return i
		}
	}
	return -1
}

func validateDeliveries(items []domain.ItemDelivery) error {
	if len(items) == 0 {
		return domain.Validationf("at least one delivered item is required")
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if it.ProductID == "" {
			return domain.Validationf("item %d: product_id is required", i)
		}
		if it.Quantity < 0 {
			return domain.Validationf("item %d: quantity must be >= 0", i)
		}
		if seen[it.ProductID] {
			return domain.Validationf("item %d: product %s listed twice", i, it.ProductID)
		}
		seen[it.ProductID] = true
	}
	return nil
}
