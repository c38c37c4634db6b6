package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/restock/internal/core/domain"
)

const (
	pickListKeyPrefix  = "picklist:"
	DefaultPickListTTL = 10 * time.Minute
)

// RedisAdapter caches pick lists of persisted orders. Entries only expire by TTL.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultPickListTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) GetPickList(ctx context.Context, orderID string) (*domain.PickList, bool, error) {
	raw, err := r.client.Get(ctx, pickListKeyPrefix+orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get pick list: %w", err)
	}
	var pl domain.PickList
	if err := json.Unmarshal(raw, &pl); err != nil {
		return nil, false, fmt.Errorf("decode pick list: %w", err)
	}
	return &pl, true, nil
}

func (r *RedisAdapter) SetPickList(ctx context.Context, orderID string, pl domain.PickList) error {
	raw, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("encode pick list: %w", err)
	}
	return r.client.Set(ctx, pickListKeyPrefix+orderID, raw, r.ttl).Err()
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
