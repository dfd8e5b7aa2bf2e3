package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a per-account request flood guard in front of admission. It is
// deliberately not the quota mechanism: tier quotas live in the usage windows,
// this only keeps a single account from hammering POST /v1/analyze.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(requestsPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func (l *Limiter) Allow(ctx context.Context, accountID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:account:%s", accountID)
	res, err := l.store.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, accountID string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:account:%s", accountID)
	return l.store.Status(ctx, key)
}
