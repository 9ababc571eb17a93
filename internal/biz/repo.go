package biz

import (
	"context"
	"time"

	"Gateleen/internal/model"
)

// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementations are in the data layer.

// Lock is a non-blocking named mutex shared by all instances.
type Lock interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) (bool, error)
}

// CircuitRepo stores circuit statistics, states and queue lock bookkeeping.
type CircuitRepo interface {
	GetCircuitState(ctx context.Context, circuitHash string) (model.CircuitState, error)
	GetCircuitInformation(ctx context.Context, circuitHash string) (*model.CircuitInfo, error)
	GetAllCircuits(ctx context.Context) ([]*model.CircuitInfo, error)
	UpdateStatistics(ctx context.Context, ref model.CircuitRef, requestID string, outcome model.Outcome, params model.StatisticsParams) (model.UpdateResult, error)

	LockQueue(ctx context.Context, circuitHash, queueName string) error
	PopQueueToUnlock(ctx context.Context) (string, error)

	ActiveCircuits(ctx context.Context) ([]string, error)
	CloseCircuit(ctx context.Context, circuitHash string) error
	CloseAndRemoveCircuit(ctx context.Context, circuitHash string) error
	ReOpenCircuit(ctx context.Context, circuitHash string) error

	// Maintenance sweeps
	SetOpenCircuitsToHalfOpen(ctx context.Context, interval time.Duration) (int, error)
	UnlockSampleQueues(ctx context.Context) ([]string, error)
	RecoverStrandedQueues(ctx context.Context) (int, error)
}

// QueueLocker pauses and resumes queues of the queue engine.
type QueueLocker interface {
	LockQueue(ctx context.Context, queueName string) error
	UnlockQueue(ctx context.Context, queueName string) error
}

// ConfigRepo persists the breaker configuration document.
type ConfigRepo interface {
	LoadConfig(ctx context.Context) ([]byte, error)
	SaveConfig(ctx context.Context, doc []byte) error
	DeleteConfig(ctx context.Context) error
	PublishConfigUpdated(ctx context.Context) error
	WatchConfigUpdates(ctx context.Context) (<-chan struct{}, error)
}

// RuleSource provides the routing rules document.
type RuleSource interface {
	LoadRules() ([]byte, error)
	WatchRules(ctx context.Context, onChange func([]byte)) error
}
