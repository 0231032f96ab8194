package redis

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// KV is the key-value capability the gateway needs: string get/set with
// TTL, bounded lists for job history, and pub/sub channels for config
// change events. Backed by redis in production and by Memory in tests
// and single-instance deployments without a REDIS_ADDR.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns a message channel and a cancel func that tears
	// the subscription down.
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)

	Ping(ctx context.Context) error
	Close() error
}
