// Package cache provides Redis caching utilities for the application.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"standings/internal/middleware"
	"standings/internal/observability"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var (
	client *redis.Client
	loads  singleflight.Group
)

// metricsHook counts failed commands by name. A cache miss (redis.Nil) is not a failure.
type metricsHook struct{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		countFailure(cmd.Name(), err)
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		countFailure("pipeline", err)
		return err
	}
}

func countFailure(name string, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrorRate.WithLabelValues(name).Inc()
	}
}

// parseOptions accepts a redis:// URL or a bare host:port.
func parseOptions(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("REDIS_URL is empty")
	}
	if !strings.Contains(addr, "://") {
		return &redis.Options{Addr: addr}, nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return opts, nil
}

// InitRedis connects to addr. Redis is optional: on failure the client stays nil and
// callers run without caching, notifications or distributed locks.
func InitRedis(addr string) {
	client = nil
	opts, err := parseOptions(addr)
	if err != nil {
		middleware.Logger.Warn("continuing without redis", slog.String("error", err.Error()))
		return
	}

	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		middleware.Logger.Warn("redis unavailable, continuing without it",
			slog.String("addr", opts.Addr), slog.String("error", err.Error()))
		_ = c.Close()
		return
	}

	c.AddHook(metricsHook{})
	middleware.Logger.Info("redis connected", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))
	client = c
}

// SetClient installs an already-connected client (used by tests and the CLI).
func SetClient(c *redis.Client) {
	if c != nil {
		c.AddHook(metricsHook{})
	}
	client = c
}

// GetClient returns the current Redis client instance.
func GetClient() *redis.Client {
	return client
}

// Aside reads key into dest, calling load on a miss and storing dest for ttl. Concurrent misses
// on one key share a single load. Without Redis it always calls load, and cache failures never
// fail the read.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, load func() error) error {
	if client == nil {
		return load()
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(raw, dest) == nil {
		return nil
	}

	leader := false
	shared, err, _ := loads.Do(key, func() (any, error) {
		leader = true
		if err := load(); err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(dest)
		if err != nil {
			return nil, nil
		}
		if serr := client.Set(ctx, key, encoded, ttl).Err(); serr != nil {
			middleware.Logger.DebugContext(ctx, "cache set failed", slog.String("key", key), slog.String("error", serr.Error()))
		}
		return encoded, nil
	})
	if err != nil || leader {
		return err
	}

	encoded, _ := shared.([]byte)
	if encoded == nil || json.Unmarshal(encoded, dest) != nil {
		return load()
	}
	return nil
}
