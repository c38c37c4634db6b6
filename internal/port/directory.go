package port

import (
	"context"

	"github.com/rl1809/restock/internal/core/domain"
)

// RouteDirectory is the route service as seen by the engine.
type RouteDirectory interface {
	// AssignedDriver returns the driver of a route; found is false when the route is unknown
	AssignedDriver(ctx context.Context, routeID string) (driverID string, found bool, err error)
}

// DeviceDirectory supplies device identity and location for projections.
type DeviceDirectory interface {
	Devices(ctx context.Context, deviceIDs []string) (map[string]domain.Device, error)
}
