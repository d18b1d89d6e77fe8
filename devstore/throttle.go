package devstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MKNTW/accountflow"
)

// resendThrottle is a fixed-window counter on code issuance per subject.
// This is the server-side backstop behind the client cooldown; a client
// that ignores its cooldown still cannot flood a mailbox.
type resendThrottle struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func newResendThrottle(redisClient *redis.Client, limit int, window time.Duration) *resendThrottle {
	return &resendThrottle{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

func throttleKey(purpose accountflow.CodePurpose, email string) string {
	return "afr:" + string(purpose) + ":" + email
}

func (t *resendThrottle) Allow(ctx context.Context, key string) error {
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
		}
	}

	if count > int64(t.limit) {
		return accountflow.ErrRateLimited
	}
	return nil
}
