// Package cache memoizes settled idempotency keys in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "flashsale:settled:"

// SettlementCache stores the order status recorded for each payment key. The
// database remains the source of truth; entries only spare a transaction.
type SettlementCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSettlementCache(rdb *redis.Client, ttl time.Duration) *SettlementCache {
	return &SettlementCache{rdb: rdb, ttl: ttl}
}

func (c *SettlementCache) Recall(ctx context.Context, key string) (domain.OrderStatus, bool, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("recall %q: %w", key, err)
	}
	status := domain.OrderStatus(val)
	if !status.Valid() {
		return "", false, nil
	}
	return status, true, nil
}

func (c *SettlementCache) Remember(ctx context.Context, key string, status domain.OrderStatus) error {
	if err := c.rdb.Set(ctx, keyPrefix+key, string(status), c.ttl).Err(); err != nil {
		return fmt.Errorf("remember %q: %w", key, err)
	}
	return nil
}

var _ app.SettlementCache = (*SettlementCache)(nil)
