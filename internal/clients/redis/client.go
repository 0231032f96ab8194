package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
)

type client struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewClient connects to redis using REDIS_ADDR / REDIS_PASSWORD /
// REDIS_DB and verifies the connection with a ping.
func NewClient(log *logger.Logger) (KV, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.Str("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     envutil.Str("REDIS_PASSWORD", ""),
		DB:           envutil.Int("REDIS_DB", 0),
		DialTimeout:  envutil.Dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envutil.Dur("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envutil.Dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		MaxRetries:   envutil.Int("REDIS_MAX_RETRIES", 3),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &client{log: log.With("client", "Redis"), rdb: rdb}, nil
}

// Raw exposes the underlying go-redis client for components that need
// richer commands than the KV interface (the queue store).
func Raw(kv KV) *goredis.Client {
	if c, ok := kv.(*client); ok {
		return c.rdb
	}
	return nil
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (c *client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *client) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return c.rdb.LPush(ctx, key, args...).Err()
}

func (c *client) LTrim(ctx context.Context, key string, start, stop int64) error {
	return c.rdb.LTrim(ctx, key, start, stop).Err()
}

func (c *client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

func (c *client) LLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

func (c *client) Publish(ctx context.Context, channel, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

func (c *client) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-done:
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				select {
				case out <- m.Payload:
				default:
					c.log.Warn("Dropping pub/sub message; subscriber slow", "channel", channel)
				}
			}
		}
	}()

	var once func()
	closed := make(chan struct{}, 1)
	once = func() {
		select {
		case closed <- struct{}{}:
			close(done)
		default:
		}
	}
	return out, once, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *client) Close() error {
	return c.rdb.Close()
}
