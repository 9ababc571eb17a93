package biz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type maintenanceFixture struct {
	repo   *MockCircuitRepo
	locker *MockQueueLocker
	lock   *MockLock
	config *ConfigManager
	tasks  *MaintenanceTasks
}

func newMaintenanceFixture(t *testing.T, mutate func(*BreakerConfig)) *maintenanceFixture {
	t.Helper()
	cfg := DefaultBreakerConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	f := &maintenanceFixture{
		repo:   new(MockCircuitRepo),
		locker: new(MockQueueLocker),
		lock:   new(MockLock),
		config: newTestConfigManager(cfg),
	}
	taskLocker := NewTaskLocker(f.lock, testBreakerConf(), testLogger)
	uc := NewQueueCircuitBreakerUsecase(f.repo, f.locker, f.lock, taskLocker,
		NewRuleCircuitMapping(testLogger), f.config, testLogger)
	metrics := NewMetricsCollector(f.repo, taskLocker, prometheus.NewRegistry(), testBreakerConf(), testLogger)
	f.tasks = NewMaintenanceTasks(uc, f.repo, taskLocker, f.config, metrics, testLogger)
	return f
}

func (f *maintenanceFixture) grant(name string) {
	f.lock.On("AcquireLock", mock.Anything, name, mock.MatchedBy(func(token string) bool {
		return strings.HasPrefix(token, "test-instance_") && strings.HasSuffix(token, "_"+name)
	}), mock.Anything).Return(true, nil).Once()
	f.lock.On("ReleaseLock", mock.Anything, name, mock.Anything).Return(true, nil).Once()
}

func TestTaskLocker_SkipsWhenLockHeld(t *testing.T) {
	lock := new(MockLock)
	lock.On("AcquireLock", mock.Anything, "job", mock.Anything, 5*time.Second).Return(false, nil)

	locker := NewTaskLocker(lock, testBreakerConf(), testLogger)
	ran := false
	err := locker.Run(context.Background(), "job", 10*time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	lock.AssertNotCalled(t, "ReleaseLock", mock.Anything, mock.Anything, mock.Anything)
}

func TestTaskLocker_ReleasesAfterFailure(t *testing.T) {
	lock := new(MockLock)
	var token string
	lock.On("AcquireLock", mock.Anything, "job", mock.Anything, time.Millisecond).Run(func(args mock.Arguments) {
		token = args.String(2)
	}).Return(true, nil)
	lock.On("ReleaseLock", mock.Anything, "job", mock.Anything).Return(true, nil).Once()

	locker := NewTaskLocker(lock, testBreakerConf(), testLogger)
	err := locker.Run(context.Background(), "job", time.Microsecond, func(context.Context) error {
		return errors.New("work failed")
	})
	assert.Error(t, err)
	lock.AssertCalled(t, "ReleaseLock", mock.Anything, "job", token)
	lock.AssertExpectations(t)
}

func TestTaskLocker_AcquireError(t *testing.T) {
	lock := new(MockLock)
	lock.On("AcquireLock", mock.Anything, "job", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))

	locker := NewTaskLocker(lock, testBreakerConf(), testLogger)
	err := locker.Run(context.Background(), "job", time.Second, func(context.Context) error {
		t.Fatal("work must not run")
		return nil
	})
	assert.Error(t, err)
}

func TestMaintenance_OpenToHalfOpen(t *testing.T) {
	f := newMaintenanceFixture(t, nil)
	f.grant(LockOpenToHalfOpen)
	f.repo.On("SetOpenCircuitsToHalfOpen", mock.Anything, 120*time.Second).Return(2, nil)

	require.NoError(t, f.tasks.OpenToHalfOpen(context.Background()))
	f.repo.AssertExpectations(t)
	f.lock.AssertExpectations(t)
}

func TestMaintenance_UnlockQueues(t *testing.T) {
	f := newMaintenanceFixture(t, nil)
	f.grant(LockUnlockQueues)
	f.repo.On("RecoverStrandedQueues", mock.Anything).Return(1, nil)
	f.repo.On("PopQueueToUnlock", mock.Anything).Return("queue-1", nil).Once()
	f.repo.On("PopQueueToUnlock", mock.Anything).Return("queue-2", nil).Once()
	f.repo.On("PopQueueToUnlock", mock.Anything).Return("", nil).Once()
	f.locker.On("UnlockQueue", mock.Anything, "queue-1").Return(errors.New("queue engine down"))
	f.locker.On("UnlockQueue", mock.Anything, "queue-2").Return(nil)

	require.NoError(t, f.tasks.UnlockQueues(context.Background()))
	f.repo.AssertExpectations(t)
	f.locker.AssertExpectations(t)
	f.lock.AssertExpectations(t)
}

func TestMaintenance_UnlockQueuesIsBounded(t *testing.T) {
	f := newMaintenanceFixture(t, nil)
	f.grant(LockUnlockQueues)
	f.repo.On("RecoverStrandedQueues", mock.Anything).Return(0, nil)
	f.repo.On("PopQueueToUnlock", mock.Anything).Return("queue", nil)
	f.locker.On("UnlockQueue", mock.Anything, "queue").Return(nil)

	require.NoError(t, f.tasks.UnlockQueues(context.Background()))
	f.repo.AssertNumberOfCalls(t, "PopQueueToUnlock", maxQueuesPerUnlockTick)
}

func TestMaintenance_UnlockSampleQueues(t *testing.T) {
	f := newMaintenanceFixture(t, nil)
	f.grant(LockUnlockSampleQueues)
	f.repo.On("UnlockSampleQueues", mock.Anything).Return([]string{"queue-a", "queue-b"}, nil)
	f.locker.On("UnlockQueue", mock.Anything, "queue-a").Return(errors.New("queue engine down"))
	f.locker.On("UnlockQueue", mock.Anything, "queue-b").Return(nil)

	assert.Error(t, f.tasks.UnlockSampleQueues(context.Background()))
	f.locker.AssertExpectations(t)
	f.lock.AssertExpectations(t)
}

func TestMaintenance_SkipsWorkWithoutLock(t *testing.T) {
	f := newMaintenanceFixture(t, nil)
	f.lock.On("AcquireLock", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	ctx := context.Background()
	require.NoError(t, f.tasks.OpenToHalfOpen(ctx))
	require.NoError(t, f.tasks.UnlockQueues(ctx))
	require.NoError(t, f.tasks.UnlockSampleQueues(ctx))

	f.repo.AssertNotCalled(t, "SetOpenCircuitsToHalfOpen", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "RecoverStrandedQueues", mock.Anything)
	f.repo.AssertNotCalled(t, "UnlockSampleQueues", mock.Anything)
}

func TestMaintenance_RefreshFollowsConfig(t *testing.T) {
	f := newMaintenanceFixture(t, nil)

	f.tasks.Refresh(f.config.Config())
	assert.Empty(t, f.tasks.entries)
	assert.Empty(t, f.tasks.cron.Entries())

	cfg := f.config.Config()
	cfg.OpenToHalfOpen.Enabled = true
	cfg.UnlockQueues.Enabled = true
	f.tasks.Refresh(cfg)
	assert.Len(t, f.tasks.entries, 2)
	assert.Len(t, f.tasks.cron.Entries(), 2)
	assert.Contains(t, f.tasks.entries, LockOpenToHalfOpen)
	assert.Contains(t, f.tasks.entries, LockUnlockQueues)

	cfg.UnlockQueues.Enabled = false
	cfg.UnlockSampleQueues.Enabled = true
	f.tasks.Refresh(cfg)
	assert.Len(t, f.tasks.cron.Entries(), 2)
	assert.NotContains(t, f.tasks.entries, LockUnlockQueues)
	assert.Contains(t, f.tasks.entries, LockUnlockSampleQueues)
}

func TestMaintenance_StartStop(t *testing.T) {
	f := newMaintenanceFixture(t, func(c *BreakerConfig) { c.OpenToHalfOpen.Enabled = true })

	require.NoError(t, f.tasks.Start(context.Background()))
	// openToHalfOpen plus metrics collection
	assert.Len(t, f.tasks.cron.Entries(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.tasks.Stop(ctx))
}
