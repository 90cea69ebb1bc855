package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the shared Redis client. Zero values fall back to the
// defaults used by the API and worker binaries.
type Options struct {
	Addr        string
	Username    string
	Password    string
	PoolSize    int
	DialTimeout time.Duration
}

// NewRedisClient connects and pings Redis, returning an error when the
// server is unreachable so callers fail fast at startup.
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  opts.DialTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
