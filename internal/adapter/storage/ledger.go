package storage

import (
	"context"
	"fmt"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

func (t *sqlTx) Planogram(ctx context.Context, ref domain.CabinetRef, forUpdate bool) (*domain.Planogram, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT s.slot_index, s.product_id, p.name, p.category, s.quantity, s.capacity, s.par_level, s.version
		FROM cabinet_slots s
		JOIN products p ON p.id = s.product_id
		WHERE s.device_id = ? AND s.cabinet_index = ?
		ORDER BY s.slot_index`+t.forUpdate(forUpdate),
		ref.DeviceID, ref.CabinetIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	pg := domain.Planogram{Cabinet: ref}
	for rows.Next() {
		var s domain.Slot
		if err := rows.Scan(&s.Index, &s.Product.ID, &s.Product.Name, &s.Product.Category,
			&s.Quantity, &s.Capacity, &s.ParLevel, &s.Version); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		pg.Slots = append(pg.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	if len(pg.Slots) == 0 {
		return nil, nil
	}
	return &pg, nil
}

// SetSlotQuantity writes an absolute quantity guarded by the version the caller read.
func (t *sqlTx) SetSlotQuantity(ctx context.Context, ref domain.CabinetRef, slot domain.Slot, quantity int) error {
	ok, err := execExpectRow(ctx, t.tx, `
		UPDATE cabinet_slots
		SET quantity = ?, version = version + 1
		WHERE device_id = ? AND cabinet_index = ? AND slot_index = ? AND version = ?`,
		quantity, ref.DeviceID, ref.CabinetIndex, slot.Index, slot.Version,
	)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if !ok {
		return port.ErrOptimisticLock
	}
	return nil
}
