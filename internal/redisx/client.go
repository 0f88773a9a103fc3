package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claim sets key only if it is absent and reports whether this caller won it.
// A nil client always wins, so Redis stays an optimisation and never a dependency.
func Claim(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return true, nil
	}
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Release forgets a claim so a failed attempt can be retried.
func Release(ctx context.Context, rdb redis.Cmdable, key string) {
	if rdb == nil {
		return
	}
	_ = rdb.Del(ctx, key).Err()
}

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }

func StatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }
