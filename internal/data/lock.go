package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// RedisLock is a non-blocking named mutex with an owner token and a TTL.
type RedisLock struct {
	scripts *ScriptRegistry
	log     *log.Helper
}

// NewRedisLock creates a lock backed by the acquire/release scripts.
func NewRedisLock(scripts *ScriptRegistry, logger log.Logger) *RedisLock {
	return &RedisLock{
		scripts: scripts,
		log:     log.NewHelper(log.With(logger, "module", "data/lock")),
	}
}

// AcquireLock sets name → token if the lock is free. It never waits; a held
// lock is reported as (false, nil).
func (l *RedisLock) AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ttlMillis := ttl.Milliseconds()
	if ttlMillis < 1 {
		ttlMillis = 1
	}

	res, err := l.scripts.Run(ctx, ScriptLockAcquire, []string{getLockKey(name)}, token, ttlMillis)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	acquired := res == int64(1)
	l.log.Debugw("msg", "lock acquire", "lock", name, "token", token, "acquired", acquired)
	return acquired, nil
}

// ReleaseLock deletes the lock only if it is still owned by token.
func (l *RedisLock) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	res, err := l.scripts.Run(ctx, ScriptLockRelease, []string{getLockKey(name)}, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", name, err)
	}

	released := res == int64(1)
	if !released {
		l.log.Debugw("msg", "lock not released, token mismatch or expired", "lock", name)
	}
	return released, nil
}
