package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	lockKeyPrefix    = "chatkeeper:lock:"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared across processes. The TTL bounds how long a
// crashed holder can block others.
type Redis struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
	log       logging.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, log logging.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Redis{client: client, ttl: ttl, retryWait: defaultRetryWait, log: log}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(r.retryWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(uctx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.log.Warn(uctx, "redis unlock failed", "key", key, "error", err)
			}
		})
	}, nil
}
