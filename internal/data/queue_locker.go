package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	storeerrors "Gateleen/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const queueLockRequester = "queue-circuit-breaker"

type queueLock struct {
	RequestedBy string `json:"requestedBy"`
	Timestamp   int64  `json:"timestamp"`
}

// RedisQueueLocker pauses and resumes queues of the queue engine through its
// lock hash. A locked queue is not drained.
type RedisQueueLocker struct {
	rdb *redis.Client
	log *log.Helper
	now func() time.Time
}

// NewRedisQueueLocker creates a queue locker
func NewRedisQueueLocker(rdb *redis.Client, logger log.Logger) *RedisQueueLocker {
	return &RedisQueueLocker{
		rdb: rdb,
		log: log.NewHelper(log.With(logger, "module", "data/queue-locker")),
		now: time.Now,
	}
}

// LockQueue pauses the queue
func (l *RedisQueueLocker) LockQueue(ctx context.Context, queueName string) error {
	value, err := json.Marshal(queueLock{RequestedBy: queueLockRequester, Timestamp: l.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to encode queue lock: %w", err)
	}
	if err := l.rdb.HSet(ctx, queueLocksKey, queueName, value).Err(); err != nil {
		return fmt.Errorf("failed to lock queue %s: %w", queueName, storeerrors.ClassifyRedisError("hset", err))
	}
	l.log.Debugw("msg", "queue locked", "queue", queueName)
	return nil
}

// UnlockQueue resumes the queue. Unlocking a queue that is not locked is not an error.
func (l *RedisQueueLocker) UnlockQueue(ctx context.Context, queueName string) error {
	if err := l.rdb.HDel(ctx, queueLocksKey, queueName).Err(); err != nil {
		return fmt.Errorf("failed to unlock queue %s: %w", queueName, storeerrors.ClassifyRedisError("hdel", err))
	}
	l.log.Debugw("msg", "queue unlocked", "queue", queueName)
	return nil
}

// IsQueueLocked reports whether the queue engine holds a lock for the queue.
func (l *RedisQueueLocker) IsQueueLocked(ctx context.Context, queueName string) (bool, error) {
	locked, err := l.rdb.HExists(ctx, queueLocksKey, queueName).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check queue lock %s: %w", queueName, storeerrors.ClassifyRedisError("hexists", err))
	}
	return locked, nil
}
