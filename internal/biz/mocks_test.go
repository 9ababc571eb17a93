package biz

import (
	"context"
	"os"
	"time"

	"Gateleen/internal/conf"
	"Gateleen/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/mock"
)

var testLogger = log.NewStdLogger(os.Stdout)

// MockLock is a mock implementation of Lock
type MockLock struct {
	mock.Mock
}

func (m *MockLock) AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, name, token, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLock) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	args := m.Called(ctx, name, token)
	return args.Bool(0), args.Error(1)
}

// MockCircuitRepo is a mock implementation of CircuitRepo
type MockCircuitRepo struct {
	mock.Mock
}

func (m *MockCircuitRepo) GetCircuitState(ctx context.Context, circuitHash string) (model.CircuitState, error) {
	args := m.Called(ctx, circuitHash)
	return args.Get(0).(model.CircuitState), args.Error(1)
}

func (m *MockCircuitRepo) GetCircuitInformation(ctx context.Context, circuitHash string) (*model.CircuitInfo, error) {
	args := m.Called(ctx, circuitHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CircuitInfo), args.Error(1)
}

func (m *MockCircuitRepo) GetAllCircuits(ctx context.Context) ([]*model.CircuitInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CircuitInfo), args.Error(1)
}

func (m *MockCircuitRepo) UpdateStatistics(ctx context.Context, ref model.CircuitRef, requestID string, outcome model.Outcome, params model.StatisticsParams) (model.UpdateResult, error) {
	args := m.Called(ctx, ref, requestID, outcome, params)
	return args.Get(0).(model.UpdateResult), args.Error(1)
}

func (m *MockCircuitRepo) LockQueue(ctx context.Context, circuitHash, queueName string) error {
	args := m.Called(ctx, circuitHash, queueName)
	return args.Error(0)
}

func (m *MockCircuitRepo) PopQueueToUnlock(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockCircuitRepo) ActiveCircuits(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCircuitRepo) CloseCircuit(ctx context.Context, circuitHash string) error {
	args := m.Called(ctx, circuitHash)
	return args.Error(0)
}

func (m *MockCircuitRepo) CloseAndRemoveCircuit(ctx context.Context, circuitHash string) error {
	args := m.Called(ctx, circuitHash)
	return args.Error(0)
}

func (m *MockCircuitRepo) ReOpenCircuit(ctx context.Context, circuitHash string) error {
	args := m.Called(ctx, circuitHash)
	return args.Error(0)
}

func (m *MockCircuitRepo) SetOpenCircuitsToHalfOpen(ctx context.Context, interval time.Duration) (int, error) {
	args := m.Called(ctx, interval)
	return args.Int(0), args.Error(1)
}

func (m *MockCircuitRepo) UnlockSampleQueues(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCircuitRepo) RecoverStrandedQueues(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockQueueLocker is a mock implementation of QueueLocker
type MockQueueLocker struct {
	mock.Mock
}

func (m *MockQueueLocker) LockQueue(ctx context.Context, queueName string) error {
	args := m.Called(ctx, queueName)
	return args.Error(0)
}

func (m *MockQueueLocker) UnlockQueue(ctx context.Context, queueName string) error {
	args := m.Called(ctx, queueName)
	return args.Error(0)
}

// MockConfigRepo is a mock implementation of ConfigRepo
type MockConfigRepo struct {
	mock.Mock
}

func (m *MockConfigRepo) LoadConfig(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockConfigRepo) SaveConfig(ctx context.Context, doc []byte) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockConfigRepo) DeleteConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConfigRepo) PublishConfigUpdated(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConfigRepo) WatchConfigUpdates(ctx context.Context) (<-chan struct{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan struct{}), args.Error(1)
}

// MockRuleSource is a mock implementation of RuleSource
type MockRuleSource struct {
	mock.Mock
}

func (m *MockRuleSource) LoadRules() ([]byte, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockRuleSource) WatchRules(ctx context.Context, onChange func([]byte)) error {
	args := m.Called(ctx, onChange)
	return args.Error(0)
}

// testBreakerConf is the process configuration used by biz tests.
func testBreakerConf() *conf.Breaker {
	return &conf.Breaker{InstanceID: "test-instance", MetricsInterval: time.Minute}
}

// newTestConfigManager returns a manager holding cfg without touching a store.
func newTestConfigManager(cfg BreakerConfig) *ConfigManager {
	m := NewConfigManager(&MockConfigRepo{}, testLogger)
	m.current.Store(&cfg)
	return m
}
