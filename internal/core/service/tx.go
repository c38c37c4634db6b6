package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

type unitOfWork struct {
	store      port.Store
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// run executes fn in one storage transaction, retrying the whole unit when a
// version-guarded write lost a race. Errors that are not engine errors leave as
// STORAGE_UNAVAILABLE.
func (u *unitOfWork) run(ctx context.Context, op string, fn func(ctx context.Context, tx port.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = u.store.RunInTx(ctx, fn)
		if !errors.Is(err, port.ErrOptimisticLock) || attempt >= u.maxRetries {
			break
		}
		u.logger.Debug("optimistic lock conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-ctx.Done():
			return domain.StorageUnavailable(ctx.Err())
		case <-time.After(u.backoff * time.Duration(attempt+1)):
		}
	}
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if domain.CodeOf(err) != "" {
		return err
	}
	return domain.StorageUnavailable(err)
}

func newID() string {
	return uuid.New().String()
}
