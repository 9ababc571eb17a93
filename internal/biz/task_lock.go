package biz

import (
	"context"
	"time"

	"Gateleen/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const releaseTimeout = 5 * time.Second

// TaskLocker runs work only on the instance holding a named lock.
type TaskLocker struct {
	lock       Lock
	instanceID string
	log        *log.Helper
}

// NewTaskLocker creates a task locker for this instance.
func NewTaskLocker(lock Lock, c *conf.Breaker, logger log.Logger) *TaskLocker {
	var instanceID string
	if c != nil {
		instanceID = c.InstanceID
	}
	return &TaskLocker{
		lock:       lock,
		instanceID: instanceID,
		log:        log.NewHelper(log.With(logger, "module", "biz/tasklock")),
	}
}

// Token returns a fresh lock token of the form <instanceID>_<uuid>_<lockName>.
func (t *TaskLocker) Token(lockName string) string {
	return t.instanceID + "_" + uuid.NewString() + "_" + lockName
}

// Run executes work when lockName can be acquired. The lock lives for half
// the task interval so a crashed holder does not block the next tick. When
// the lock is held elsewhere Run returns nil without doing any work.
// An acquired lock is always released.
func (t *TaskLocker) Run(ctx context.Context, lockName string, interval time.Duration, work func(context.Context) error) error {
	ttl := interval / 2
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	token := t.Token(lockName)
	acquired, err := t.lock.AcquireLock(ctx, lockName, token, ttl)
	if err != nil {
		return err
	}
	if !acquired {
		t.log.Debugw("msg", "lock held by another instance, skipping", "lock", lockName)
		return nil
	}
	defer t.release(ctx, lockName, token)

	return work(ctx)
}

func (t *TaskLocker) release(ctx context.Context, lockName, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := t.lock.ReleaseLock(releaseCtx, lockName, token)
	if err != nil {
		t.log.Warnw("msg", "failed to release lock", "lock", lockName, "error", err)
		return
	}
	if !released {
		t.log.Debugw("msg", "lock already expired", "lock", lockName)
	}
}
