package port

import (
	"context"

	"github.com/rl1809/restock/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
