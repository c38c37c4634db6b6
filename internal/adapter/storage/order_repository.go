package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

func (t *sqlTx) InsertOrder(ctx context.Context, order domain.ServiceOrder) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO service_orders (id, route_id, created_by, driver_id, status, total_units,
			estimated_minutes, version, created_at, last_modified, modified_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.RouteID, order.CreatedBy, order.DriverID, order.Status, order.TotalUnits,
		order.EstimatedMinutes, order.Version, order.CreatedAt, order.LastModified, order.ModifiedBy,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, co := range order.Cabinets {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO service_order_cabinets (id, order_id, device_id, cabinet_index, position,
				executed, visit_id, version, last_modified, modified_by)
			VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
			co.ID, order.ID, co.Cabinet.DeviceID, co.Cabinet.CabinetIndex, co.Position,
			co.Version, co.LastModified, co.ModifiedBy,
		)
		if err != nil {
			return fmt.Errorf("insert cabinet order: %w", err)
		}
		for i, it := range co.Items {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO service_order_items (cabinet_order_id, line, product_id, quantity_needed)
				VALUES (?, ?, ?, ?)`,
				co.ID, i, it.ProductID, it.QuantityNeeded,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
	}
	return nil
}

func (t *sqlTx) GetOrder(ctx context.Context, orderID string) (*domain.ServiceOrder, error) {
	var o domain.ServiceOrder
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, route_id, created_by, driver_id, status, total_units, estimated_minutes,
			version, created_at, last_modified, modified_by
		FROM service_orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.RouteID, &o.CreatedBy, &o.DriverID, &o.Status, &o.TotalUnits, &o.EstimatedMinutes,
		&o.Version, &o.CreatedAt, &o.LastModified, &o.ModifiedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.LastModified = o.LastModified.UTC()

	o.Cabinets, err = t.cabinetOrders(ctx, `WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *sqlTx) ListOrders(ctx context.Context, statuses []domain.OrderStatus) ([]domain.ServiceOrder, error) {
	query := `SELECT id FROM service_orders`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY created_at, id`

	ids, err := t.queryStrings(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]domain.ServiceOrder, 0, len(ids))
	for _, id := range ids {
		o, err := t.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if o != nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (t *sqlTx) GetCabinetOrder(ctx context.Context, cabinetOrderID string, forUpdate bool) (*domain.ServiceOrderCabinet, error) {
	cos, err := t.cabinetOrders(ctx, `WHERE id = ?`+t.forUpdate(forUpdate), cabinetOrderID)
	if err != nil {
		return nil, err
	}
	if len(cos) == 0 {
		return nil, nil
	}
	return &cos[0], nil
}

func (t *sqlTx) cabinetOrders(ctx context.Context, where string, args ...any) ([]domain.ServiceOrderCabinet, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, device_id, cabinet_index, position, executed, visit_id, version,
			last_modified, modified_by
		FROM service_order_cabinets `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query cabinet orders: %w", err)
	}
	var out []domain.ServiceOrderCabinet
	for rows.Next() {
		var (
			co      domain.ServiceOrderCabinet
			visitID sql.NullString
		)
		if err := rows.Scan(&co.ID, &co.OrderID, &co.Cabinet.DeviceID, &co.Cabinet.CabinetIndex,
			&co.Position, &co.Executed, &visitID, &co.Version, &co.LastModified, &co.ModifiedBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan cabinet order: %w", err)
		}
		co.VisitID = visitID.String
		co.LastModified = co.LastModified.UTC()
		out = append(out, co)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cabinet orders: %w", err)
	}

	// children are loaded after the cursor is closed; SQLite has a single connection
	for i := range out {
		if out[i].Items, err = t.orderItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
		if out[i].VisitID != "" {
			if out[i].Visit, err = t.visit(ctx, out[i].VisitID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (t *sqlTx) orderItems(ctx context.Context, cabinetOrderID string) ([]domain.ServiceOrderItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT product_id, quantity_needed FROM service_order_items
		WHERE cabinet_order_id = ? ORDER BY line`, cabinetOrderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.ServiceOrderItem
	for rows.Next() {
		var it domain.ServiceOrderItem
		if err := rows.Scan(&it.ProductID, &it.QuantityNeeded); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *sqlTx) visit(ctx context.Context, visitID string) (*domain.ServiceVisit, error) {
	var v domain.ServiceVisit
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, cabinet_order_id, executed_by, duration_minutes, executed_at
		FROM service_visits WHERE id = ?`, visitID,
	).Scan(&v.ID, &v.CabinetOrderID, &v.ExecutedBy, &v.DurationMinutes, &v.ExecutedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query visit: %w", err)
	}
	v.ExecutedAt = v.ExecutedAt.UTC()

	rows, err := t.tx.QueryContext(ctx, `
		SELECT line, product_id, requested, applied FROM service_visit_items
		WHERE visit_id = ? ORDER BY line`, visitID)
	if err != nil {
		return nil, fmt.Errorf("query visit items: %w", err)
	}
	var lines []int
	for rows.Next() {
		var (
			line int
			di   domain.DeliveredItem
		)
		if err := rows.Scan(&line, &di.ProductID, &di.Requested, &di.Applied); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan visit item: %w", err)
		}
		lines = append(lines, line)
		v.Items = append(v.Items, di)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visit items: %w", err)
	}

	rows, err = t.tx.QueryContext(ctx, `
		SELECT line, slot_index, quantity FROM service_visit_allocations
		WHERE visit_id = ? ORDER BY line, slot_index`, visitID)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line  int
			alloc domain.SlotAllocation
		)
		if err := rows.Scan(&line, &alloc.SlotIndex, &alloc.Quantity); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		for i, l := range lines {
			if l == line {
				v.Items[i].Allocations = append(v.Items[i].Allocations, alloc)
			}
		}
	}
	return &v, rows.Err()
}

// UpdateOrder persists status and modification stamps when order.Version is still current.
func (t *sqlTx) UpdateOrder(ctx context.Context, order domain.ServiceOrder) error {
	ok, err := execExpectRow(ctx, t.tx, `
		UPDATE service_orders
		SET status = ?, last_modified = ?, modified_by = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		order.Status, order.LastModified, order.ModifiedBy, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if !ok {
		return port.ErrOptimisticLock
	}
	return nil
}

func (t *sqlTx) ClaimCabinetOrder(ctx context.Context, cabinetOrderID, visitID, actorID string, at time.Time) error {
	ok, err := execExpectRow(ctx, t.tx, `
		UPDATE service_order_cabinets
		SET executed = 1, visit_id = ?, last_modified = ?, modified_by = ?, version = version + 1
		WHERE id = ? AND executed = 0`,
		visitID, at, actorID, cabinetOrderID,
	)
	if err != nil {
		return fmt.Errorf("claim cabinet order: %w", err)
	}
	if ok {
		return nil
	}
	return t.guardFailure(ctx, cabinetOrderID, domain.AlreadyExecuted(cabinetOrderID))
}

func (t *sqlTx) ReleaseCabinetOrder(ctx context.Context, cabinetOrderID, actorID string, at time.Time) error {
	ok, err := execExpectRow(ctx, t.tx, `
		UPDATE service_order_cabinets
		SET executed = 0, visit_id = NULL, last_modified = ?, modified_by = ?, version = version + 1
		WHERE id = ? AND executed = 1`,
		at, actorID, cabinetOrderID,
	)
	if err != nil {
		return fmt.Errorf("release cabinet order: %w", err)
	}
	if ok {
		return nil
	}
	return t.guardFailure(ctx, cabinetOrderID, domain.NotExecuted(cabinetOrderID))
}

// guardFailure tells a missing cabinet order apart from one in the wrong state.
func (t *sqlTx) guardFailure(ctx context.Context, cabinetOrderID string, stateErr error) error {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_order_cabinets WHERE id = ?`, cabinetOrderID).Scan(&n); err != nil {
		return fmt.Errorf("check cabinet order: %w", err)
	}
	if n == 0 {
		return domain.NotFound("cabinet order", cabinetOrderID)
	}
	return stateErr
}

func (t *sqlTx) InsertVisit(ctx context.Context, visit domain.ServiceVisit) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO service_visits (id, cabinet_order_id, executed_by, duration_minutes, executed_at)
		VALUES (?, ?, ?, ?, ?)`,
		visit.ID, visit.CabinetOrderID, visit.ExecutedBy, visit.DurationMinutes, visit.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	for line, it := range visit.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO service_visit_items (visit_id, line, product_id, requested, applied)
			VALUES (?, ?, ?, ?, ?)`,
			visit.ID, line, it.ProductID, it.Requested, it.Applied,
		)
		if err != nil {
			return fmt.Errorf("insert visit item: %w", err)
		}
		for _, alloc := range it.Allocations {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO service_visit_allocations (visit_id, line, slot_index, quantity)
				VALUES (?, ?, ?, ?)`,
				visit.ID, line, alloc.SlotIndex, alloc.Quantity,
			)
			if err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
		}
	}
	return nil
}

func (t *sqlTx) DeleteVisit(ctx context.Context, visitID string) error {
	for _, q := range []string{
		`DELETE FROM service_visit_allocations WHERE visit_id = ?`,
		`DELETE FROM service_visit_items WHERE visit_id = ?`,
		`DELETE FROM service_visits WHERE id = ?`,
	} {
		if _, err := t.tx.ExecContext(ctx, q, visitID); err != nil {
			return fmt.Errorf("delete visit: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) RecordSyncOutcome(ctx context.Context, entry domain.SyncAuditEntry) error {
	var clientTS sql.NullTime
	if !entry.ClientTimestamp.IsZero() {
		clientTS = sql.NullTime{Time: entry.ClientTimestamp, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_audit (id, order_id, change_id, change_type, target_id, actor_id,
			client_timestamp, outcome, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrderID, entry.ChangeID, entry.ChangeType, entry.TargetID, entry.ActorID,
		clientTS, entry.Outcome, entry.Reason, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync audit: %w", err)
	}
	return nil
}

func (t *sqlTx) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
