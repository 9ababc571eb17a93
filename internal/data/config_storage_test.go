package data

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStorage_SaveLoadDelete(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	storage := NewConfigStorage(rdb, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	doc, err := storage.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, storage.SaveConfig(ctx, []byte(`{"circuitCheckEnabled":true}`)))
	doc, err = storage.LoadConfig(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"circuitCheckEnabled":true}`, string(doc))

	require.NoError(t, storage.DeleteConfig(ctx))
	doc, err = storage.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestConfigStorage_WatchConfigUpdates(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	storage := NewConfigStorage(rdb, log.NewStdLogger(os.Stdout))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := storage.WatchConfigUpdates(ctx)
	require.NoError(t, err)

	require.NoError(t, storage.PublishConfigUpdated(context.Background()))

	select {
	case _, ok := <-updates:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a config update notification")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisQueueLocker_LockUnlock(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	defer rdb.Close()

	locker := NewRedisQueueLocker(rdb, log.NewStdLogger(os.Stdout))
	locker.now = func() time.Time { return time.UnixMilli(testEpoch) }
	ctx := context.Background()

	require.NoError(t, locker.LockQueue(ctx, "queue-1"))

	locked, err := locker.IsQueueLocked(ctx, "queue-1")
	require.NoError(t, err)
	assert.True(t, locked)

	raw, err := rdb.HGet(ctx, queueLocksKey, "queue-1").Result()
	require.NoError(t, err)
	var lock queueLock
	require.NoError(t, json.Unmarshal([]byte(raw), &lock))
	assert.Equal(t, queueLockRequester, lock.RequestedBy)
	assert.Equal(t, testEpoch, lock.Timestamp)

	require.NoError(t, locker.UnlockQueue(ctx, "queue-1"))
	require.NoError(t, locker.UnlockQueue(ctx, "queue-1"))

	locked, err = locker.IsQueueLocked(ctx, "queue-1")
	require.NoError(t, err)
	assert.False(t, locked)
}
