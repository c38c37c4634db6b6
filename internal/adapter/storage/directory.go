package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/restock/internal/core/domain"
)

// AssignedDriver implements port.RouteDirectory from the routes table.
func (s *Store) AssignedDriver(ctx context.Context, routeID string) (string, bool, error) {
	var driverID string
	err := s.db.QueryRowContext(ctx, `SELECT driver_id FROM routes WHERE id = ?`, routeID).Scan(&driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query route: %w", err)
	}
	return driverID, true, nil
}

// Devices implements port.DeviceDirectory. Unknown ids are absent from the result.
func (s *Store) Devices(ctx context.Context, ids []string) (map[string]domain.Device, error) {
	out := make(map[string]domain.Device, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location FROM devices WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Location); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}
