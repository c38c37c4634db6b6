package port

import (
	"context"

	"github.com/rl1809/restock/internal/core/domain"
)

type CacheRepository interface {
	// GetPickList returns a cached pick list, found=false on miss
	GetPickList(ctx context.Context, orderID string) (pl *domain.PickList, found bool, err error)

	// SetPickList stores a pick list for later reads
	SetPickList(ctx context.Context, orderID string, pl domain.PickList) error
}
