package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Lock names of the periodic tasks. Only one instance runs a task per tick.
const (
	LockOpenToHalfOpen     = "openToHalfOpenTask"
	LockUnlockQueues       = "unlockQueuesTask"
	LockUnlockSampleQueues = "unlockSampleQueuesTask"
)

// maxQueuesPerUnlockTick bounds the queues resumed by one unlockQueues tick.
const maxQueuesPerUnlockTick = 100

// cronLogger routes cron's own messages to the kratos logger.
type cronLogger struct {
	log *log.Helper
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(append([]interface{}{"msg", msg, "error", err}, keysAndValues...)...)
}

// MaintenanceTasks schedules the periodic circuit maintenance of this
// instance. It implements transport.Server.
type MaintenanceTasks struct {
	breaker *QueueCircuitBreakerUsecase
	repo    CircuitRepo
	tasks   *TaskLocker
	config  *ConfigManager
	metrics *MetricsCollector
	log     *log.Helper

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewMaintenanceTasks creates the scheduler. Task schedules follow every
// configuration change.
func NewMaintenanceTasks(
	breaker *QueueCircuitBreakerUsecase,
	repo CircuitRepo,
	tasks *TaskLocker,
	config *ConfigManager,
	metrics *MetricsCollector,
	logger log.Logger,
) *MaintenanceTasks {
	helper := log.NewHelper(log.With(logger, "module", "biz/maintenance"))
	m := &MaintenanceTasks{
		breaker: breaker,
		repo:    repo,
		tasks:   tasks,
		config:  config,
		metrics: metrics,
		log:     helper,
		cron:    cron.New(cron.WithLogger(cronLogger{log: helper})),
		entries: make(map[string]cron.EntryID),
	}
	config.AddListener(m.Refresh)
	return m
}

// Refresh (re)schedules the maintenance tasks for cfg. Disabled tasks are removed.
func (m *MaintenanceTasks) Refresh(cfg BreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedule(LockOpenToHalfOpen, cfg.OpenToHalfOpen, m.OpenToHalfOpen)
	m.schedule(LockUnlockQueues, cfg.UnlockQueues, m.UnlockQueues)
	m.schedule(LockUnlockSampleQueues, cfg.UnlockSampleQueues, m.UnlockSampleQueues)
}

func (m *MaintenanceTasks) schedule(name string, task TaskConfig, run func(context.Context) error) {
	if id, ok := m.entries[name]; ok {
		m.cron.Remove(id)
		delete(m.entries, name)
	}
	if !task.Enabled || task.Interval <= 0 {
		return
	}
	interval := task.Duration()
	id, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), m.job(name, interval, run))
	if err != nil {
		m.log.Errorw("msg", "failed to schedule maintenance task", "task", name, "error", err)
		return
	}
	m.entries[name] = id
	m.log.Infow("msg", "maintenance task scheduled", "task", name, "interval", interval.String())
}

func (m *MaintenanceTasks) job(name string, interval time.Duration, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := run(ctx); err != nil {
			m.log.Errorw("msg", "maintenance task failed", "task", name, "error", err)
		}
	}
}

// Start schedules the tasks of the active configuration and the metrics
// collection, then starts the scheduler.
func (m *MaintenanceTasks) Start(ctx context.Context) error {
	m.Refresh(m.config.Config())

	if m.metrics != nil && m.metrics.Interval() > 0 {
		interval := m.metrics.Interval()
		if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), m.job(LockCollectMetrics, interval, m.metrics.Collect)); err != nil {
			return fmt.Errorf("failed to schedule metrics collection: %w", err)
		}
	}
	m.cron.Start()
	m.log.Info("maintenance scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running tasks.
func (m *MaintenanceTasks) Stop(ctx context.Context) error {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenToHalfOpen moves open circuits whose open interval elapsed to half open.
func (m *MaintenanceTasks) OpenToHalfOpen(ctx context.Context) error {
	interval := m.config.Config().OpenToHalfOpen.Duration()
	return m.tasks.Run(ctx, LockOpenToHalfOpen, interval, func(ctx context.Context) error {
		count, err := m.repo.SetOpenCircuitsToHalfOpen(ctx, interval)
		if err != nil {
			return err
		}
		if count > 0 {
			m.log.Infow("msg", "circuits changed to half open", "count", count)
		}
		return nil
	})
}

// UnlockQueues resumes queues of circuits that are closed again. Queues left
// behind by circuits that are no longer open are rescheduled first.
func (m *MaintenanceTasks) UnlockQueues(ctx context.Context) error {
	interval := m.config.Config().UnlockQueues.Duration()
	return m.tasks.Run(ctx, LockUnlockQueues, interval, func(ctx context.Context) error {
		recovered, err := m.repo.RecoverStrandedQueues(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			m.log.Infow("msg", "stranded queues scheduled for unlock", "count", recovered)
		}

		unlocked := 0
		for i := 0; i < maxQueuesPerUnlockTick; i++ {
			queueName, err := m.breaker.UnlockNextQueue(ctx)
			if err != nil {
				if queueName == "" {
					return err
				}
				continue
			}
			if queueName == "" {
				break
			}
			unlocked++
		}
		if unlocked > 0 {
			m.log.Infow("msg", "queues unlocked", "count", unlocked)
		}
		return nil
	})
}

// UnlockSampleQueues resumes one queue per half open circuit so a probe
// request can be sent.
func (m *MaintenanceTasks) UnlockSampleQueues(ctx context.Context) error {
	interval := m.config.Config().UnlockSampleQueues.Duration()
	return m.tasks.Run(ctx, LockUnlockSampleQueues, interval, func(ctx context.Context) error {
		queues, err := m.repo.UnlockSampleQueues(ctx)
		if err != nil {
			return err
		}

		// every selected queue gets its probe even when another unlock fails
		var g errgroup.Group
		for _, queueName := range queues {
			g.Go(func() error {
				if err := m.breaker.UnlockQueue(ctx, queueName); err != nil {
					return fmt.Errorf("failed to unlock sample queue %s: %w", queueName, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if len(queues) > 0 {
			m.log.Infow("msg", "sample queues unlocked", "count", len(queues))
		}
		return nil
	})
}
