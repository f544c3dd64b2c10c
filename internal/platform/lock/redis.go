package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
)

// Redis keeps leases in Redis so every API instance and worker sees the
// same holder. Ownership checks run as Lua scripts to stay atomic.
type Redis struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
}

func (r *Redis) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := r.client.Eval(ctx, refreshScript, []string{r.prefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key, token string) error {
	return r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, token).Err()
}
