package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"Gateleen/internal/model"
	storeerrors "Gateleen/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	updateResultOpened = "OPENED"
)

// CircuitStorage keeps circuit statistics, states and queue lock bookkeeping
// in Redis. Every mutation spanning more than one key runs as a script.
type CircuitStorage struct {
	rdb     *redis.Client
	scripts *ScriptRegistry
	log     *log.Helper
	now     func() time.Time
}

// NewCircuitStorage creates a circuit storage
func NewCircuitStorage(rdb *redis.Client, scripts *ScriptRegistry, logger log.Logger) *CircuitStorage {
	return &CircuitStorage{
		rdb:     rdb,
		scripts: scripts,
		log:     log.NewHelper(log.With(logger, "module", "data/circuit")),
		now:     time.Now,
	}
}

func (s *CircuitStorage) nowMillis() int64 {
	return s.now().UnixMilli()
}

// GetCircuitState returns the state of a circuit. Unknown circuits are closed.
func (s *CircuitStorage) GetCircuitState(ctx context.Context, circuitHash string) (model.CircuitState, error) {
	raw, err := s.rdb.HGet(ctx, getCircuitKey(circuitHash, infosSuffix), fieldState).Result()
	if err != nil {
		if storeerrors.IsNil(err) {
			return model.StateClosed, nil
		}
		return model.StateClosed, fmt.Errorf("failed to get circuit state: %w", storeerrors.ClassifyRedisError("hget", err))
	}

	state, err := model.ParseCircuitState(raw)
	if err != nil {
		s.log.Warnw("msg", "unparsable circuit state, treating as closed", "circuit_hash", circuitHash, "state", raw)
		return model.StateClosed, nil
	}
	return state, nil
}

// GetCircuitInformation returns the stored view of a circuit, or nil when the
// circuit is unknown.
func (s *CircuitStorage) GetCircuitInformation(ctx context.Context, circuitHash string) (*model.CircuitInfo, error) {
	fields, err := s.rdb.HGetAll(ctx, getCircuitKey(circuitHash, infosSuffix)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get circuit information: %w", storeerrors.ClassifyRedisError("hgetall", err))
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return circuitInfoFromFields(circuitHash, fields), nil
}

// GetAllCircuits returns every circuit that ever recorded a sample.
func (s *CircuitStorage) GetAllCircuits(ctx context.Context) ([]*model.CircuitInfo, error) {
	res, err := s.scripts.Run(ctx, ScriptAllCircuits, []string{allCircuitsKey}, circuitKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get all circuits: %w", err)
	}

	entries, _ := res.([]interface{})
	circuits := make([]*model.CircuitInfo, 0, len(entries))
	for _, entry := range entries {
		pair, ok := entry.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		circuitHash, _ := pair[0].(string)
		flat, _ := pair[1].([]interface{})

		fields := make(map[string]string, len(flat)/2)
		for i := 0; i+1 < len(flat); i += 2 {
			k, _ := flat[i].(string)
			v, _ := flat[i+1].(string)
			fields[k] = v
		}
		circuits = append(circuits, circuitInfoFromFields(circuitHash, fields))
	}
	return circuits, nil
}

func circuitInfoFromFields(circuitHash string, fields map[string]string) *model.CircuitInfo {
	info := &model.CircuitInfo{
		Hash:       circuitHash,
		Circuit:    fields[fieldCircuit],
		MetricName: fields[fieldMetricName],
		Status:     fields[fieldState],
	}
	if v, err := strconv.Atoi(fields[fieldFailRatio]); err == nil {
		info.FailRatio = v
	}
	if v, err := strconv.ParseInt(fields[fieldOpenedAt], 10, 64); err == nil {
		info.OpenedAt = v
	}
	return info
}

// UpdateStatistics records one sample and evaluates the open threshold of a
// closed circuit in the same atomic step.
func (s *CircuitStorage) UpdateStatistics(ctx context.Context, ref model.CircuitRef, requestID string, outcome model.Outcome, params model.StatisticsParams) (model.UpdateResult, error) {
	keys := []string{
		getCircuitKey(ref.Hash, infosSuffix),
		getCircuitKey(ref.Hash, successSuffix),
		getCircuitKey(ref.Hash, failureSuffix),
		openCircuitsKey,
		allCircuitsKey,
	}

	res, err := s.scripts.Run(ctx, ScriptUpdateStats, keys,
		outcome.String(),
		requestID,
		ref.Pattern,
		ref.MetricName,
		ref.Hash,
		s.nowMillis(),
		params.ErrorThresholdPercentage,
		params.EntriesMaxAgeMS,
		params.MinQueueSampleCount,
		params.MaxQueueSampleCount,
	)
	if err != nil {
		return model.UpdateResultOK, fmt.Errorf("failed to update statistics: %w", err)
	}

	if res == updateResultOpened {
		s.log.Infow("msg", "circuit opened", "circuit", ref.Pattern, "circuit_hash", ref.Hash)
		return model.UpdateResultOpened, nil
	}
	return model.UpdateResultOK, nil
}

// LockQueue records that a queue is locked because of the circuit.
func (s *CircuitStorage) LockQueue(ctx context.Context, circuitHash, queueName string) error {
	err := s.rdb.ZAdd(ctx, getCircuitKey(circuitHash, queuesSuffix), redis.Z{
		Score:  float64(s.nowMillis()),
		Member: queueName,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to lock queue %s: %w", queueName, storeerrors.ClassifyRedisError("zadd", err))
	}
	return nil
}

// PopQueueToUnlock returns the next queue scheduled for unlock, or "" when
// none is pending.
func (s *CircuitStorage) PopQueueToUnlock(ctx context.Context) (string, error) {
	queue, err := s.rdb.LPop(ctx, queuesToUnlockKey).Result()
	if err != nil {
		if storeerrors.IsNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to pop queue to unlock: %w", storeerrors.ClassifyRedisError("lpop", err))
	}
	return queue, nil
}

// ActiveCircuits returns the hashes of all open and half open circuits.
func (s *CircuitStorage) ActiveCircuits(ctx context.Context) ([]string, error) {
	hashes, err := s.rdb.SUnion(ctx, openCircuitsKey, halfOpenCircuitsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active circuits: %w", storeerrors.ClassifyRedisError("sunion", err))
	}
	return hashes, nil
}

// CloseCircuit resets a circuit to closed and schedules its queues for unlock.
func (s *CircuitStorage) CloseCircuit(ctx context.Context, circuitHash string) error {
	return s.closeCircuit(ctx, circuitHash, false)
}

// CloseAndRemoveCircuit closes a circuit and purges it from the store.
func (s *CircuitStorage) CloseAndRemoveCircuit(ctx context.Context, circuitHash string) error {
	return s.closeCircuit(ctx, circuitHash, true)
}

func (s *CircuitStorage) closeCircuit(ctx context.Context, circuitHash string, remove bool) error {
	keys := []string{
		getCircuitKey(circuitHash, infosSuffix),
		getCircuitKey(circuitHash, successSuffix),
		getCircuitKey(circuitHash, failureSuffix),
		getCircuitKey(circuitHash, queuesSuffix),
		queuesToUnlockKey,
		halfOpenCircuitsKey,
		openCircuitsKey,
		allCircuitsKey,
	}

	res, err := s.scripts.Run(ctx, ScriptCloseCircuit, keys, circuitHash, strconv.FormatBool(remove))
	if err != nil {
		return fmt.Errorf("failed to close circuit %s: %w", circuitHash, err)
	}
	s.log.Infow("msg", "circuit closed", "circuit_hash", circuitHash, "removed", remove, "queues_to_unlock", res)
	return nil
}

// ReOpenCircuit moves a half open circuit back to open and restarts its wait interval.
func (s *CircuitStorage) ReOpenCircuit(ctx context.Context, circuitHash string) error {
	keys := []string{
		getCircuitKey(circuitHash, infosSuffix),
		halfOpenCircuitsKey,
		openCircuitsKey,
	}
	if _, err := s.scripts.Run(ctx, ScriptReopenCircuit, keys, circuitHash, s.nowMillis()); err != nil {
		return fmt.Errorf("failed to reopen circuit %s: %w", circuitHash, err)
	}
	s.log.Infow("msg", "circuit reopened", "circuit_hash", circuitHash)
	return nil
}

// SetOpenCircuitsToHalfOpen moves every open circuit that has been open for
// at least interval to half open and returns how many moved.
func (s *CircuitStorage) SetOpenCircuitsToHalfOpen(ctx context.Context, interval time.Duration) (int, error) {
	res, err := s.scripts.Run(ctx, ScriptHalfOpenCircuits, []string{openCircuitsKey, halfOpenCircuitsKey},
		circuitKeyPrefix, s.nowMillis(), interval.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to set open circuits to half open: %w", err)
	}
	count, _ := res.(int64)
	return int(count), nil
}

// UnlockSampleQueues selects, per half open circuit, the oldest locked queue
// and rotates it to the end of the circuit's queue set.
func (s *CircuitStorage) UnlockSampleQueues(ctx context.Context) ([]string, error) {
	res, err := s.scripts.Run(ctx, ScriptUnlockSampleQueues, []string{halfOpenCircuitsKey},
		circuitKeyPrefix, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("failed to select sample queues: %w", err)
	}
	return toStringSlice(res), nil
}

// RecoverStrandedQueues schedules the queues of circuits that are neither
// open nor half open for unlock.
func (s *CircuitStorage) RecoverStrandedQueues(ctx context.Context) (int, error) {
	keys := []string{allCircuitsKey, openCircuitsKey, halfOpenCircuitsKey, queuesToUnlockKey}
	res, err := s.scripts.Run(ctx, ScriptUnlockStrandedQueues, keys, circuitKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stranded queues: %w", err)
	}
	count, _ := res.(int64)
	return int(count), nil
}

func toStringSlice(res interface{}) []string {
	items, _ := res.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
