// Package data provides data access layer implementations.
package data

import (
	"context"
	"fmt"
	"time"

	"Gateleen/internal/conf"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// redisPingTries bounds the startup health check
const redisPingTries = 4

// NewRedisClient creates a new Redis client with connection pool configuration.
// It returns the client, a cleanup function, and an error.
// The store is the only coordination medium between instances, so an
// unreachable store fails startup after a few retries.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		return nil, func() {}, fmt.Errorf("redis address is not configured")
	}

	network := c.Redis.Network
	if network == "" {
		network = "tcp"
	}

	rdb := redis.NewClient(&redis.Options{
		Network:         network,
		Addr:            c.Redis.Addr,
		Password:        c.Redis.Password,
		DB:              c.Redis.DB,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     c.Redis.ReadTimeout,
		WriteTimeout:    c.Redis.WriteTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (string, error) {
		pong, err := rdb.Ping(ctx).Result()
		if err != nil {
			helper.Warnw("msg", "failed to ping redis, retrying with backoff", "addr", c.Redis.Addr, "error", err)
		}
		return pong, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(redisPingTries))
	if err != nil {
		_ = rdb.Close()
		return nil, func() {}, fmt.Errorf("redis ping failed: %w", err)
	}

	helper.Infow("msg", "connected to redis", "addr", c.Redis.Addr, "db", c.Redis.DB)

	cleanup := func() {
		helper.Info("Closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("Failed to close Redis client: %v", err)
		}
	}

	return rdb, cleanup, nil
}
