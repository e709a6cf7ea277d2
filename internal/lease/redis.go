// Package lease provides short-lived exclusive leases on object keys. MinIO
// has no native blob leases, so leases live in Redis as expiring keys.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease held by another owner")

const keyPrefix = "filecoord:lease:"

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Redis grants leases with SET NX PX.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Acquire takes the lease on key for ttl under token.
func (r *Redis) Acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, leaseKey(key), token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("acquire lease %s: %w", key, ErrLeaseHeld)
	}
	return nil
}

// Release drops the lease on key if token still owns it.
func (r *Redis) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{leaseKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	if n == 0 {
		slog.WarnContext(ctx, "lease already expired or taken over", "object_key", key)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func leaseKey(key string) string {
	return keyPrefix + key
}
