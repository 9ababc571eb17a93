package biz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Gateleen/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	// RequestIDHeader carries the unique id of a queued request.
	RequestIDHeader = "x-rp-unique_id"

	minProbeTTL         = time.Second
	closeAllConcurrency = 8
	probeLockNamePrefix = "probe-"
)

// Request is the part of a queued request relevant to the breaker.
type Request struct {
	URI     string
	Headers http.Header
}

// RequestID returns the unique request id, falling back to the uri.
func (r Request) RequestID() string {
	if id := r.Headers.Get(RequestIDHeader); id != "" {
		return id
	}
	return r.URI
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed bool
	// Mapped is false when no rule matched the request uri.
	Mapped  bool
	State   model.CircuitState
	Circuit PatternAndCircuitHash

	probeToken string
}

// Probe reports whether this decision holds the half open probe slot.
func (d Decision) Probe() bool {
	return d.probeToken != ""
}

// QueueCircuitBreakerUsecase decides whether queued requests may be sent and
// records their outcomes.
type QueueCircuitBreakerUsecase struct {
	repo    CircuitRepo
	locker  QueueLocker
	lock    Lock
	tasks   *TaskLocker
	mapping *RuleCircuitMapping
	config  *ConfigManager
	log     *log.Helper
}

// NewQueueCircuitBreakerUsecase creates a new circuit breaker usecase.
func NewQueueCircuitBreakerUsecase(
	repo CircuitRepo,
	locker QueueLocker,
	lock Lock,
	tasks *TaskLocker,
	mapping *RuleCircuitMapping,
	config *ConfigManager,
	logger log.Logger,
) *QueueCircuitBreakerUsecase {
	return &QueueCircuitBreakerUsecase{
		repo:    repo,
		locker:  locker,
		lock:    lock,
		tasks:   tasks,
		mapping: mapping,
		config:  config,
		log:     log.NewHelper(log.With(logger, "module", "biz/breaker")),
	}
}

// Allow decides whether the request taken from queueName may be executed.
// Requests of an open circuit are denied and their queue is locked. A half
// open circuit lets one probe through at a time.
//
// When the circuit state cannot be read the request is allowed and the read
// error is returned along with the decision.
func (uc *QueueCircuitBreakerUsecase) Allow(ctx context.Context, queueName string, req Request) (Decision, error) {
	cfg := uc.config.Config()
	if !cfg.CircuitCheckEnabled {
		return Decision{Allowed: true}, nil
	}

	entry, ok := uc.mapping.Resolve(req.URI, req.Headers)
	if !ok {
		return Decision{Allowed: true}, nil
	}
	decision := Decision{Mapped: true, Circuit: entry}

	state, err := uc.repo.GetCircuitState(ctx, entry.CircuitHash)
	if err != nil {
		uc.log.Warnw("msg", "failed to read circuit state, allowing request",
			"circuit", entry.Pattern, "queue", queueName, "error", err)
		decision.Allowed = true
		decision.State = model.StateClosed
		return decision, err
	}
	decision.State = state

	switch state {
	case model.StateOpen:
		return decision, uc.lockDenied(ctx, entry, queueName)
	case model.StateHalfOpen:
		token := uc.tasks.Token(probeLockName(entry.CircuitHash))
		acquired, err := uc.lock.AcquireLock(ctx, probeLockName(entry.CircuitHash), token, probeTTL(cfg))
		if err != nil {
			uc.log.Warnw("msg", "failed to acquire probe slot", "circuit", entry.Pattern, "error", err)
		}
		if err != nil || !acquired {
			return decision, uc.lockDenied(ctx, entry, queueName)
		}
		decision.Allowed = true
		decision.probeToken = token
		return decision, nil
	default:
		decision.Allowed = true
		return decision, nil
	}
}

func (uc *QueueCircuitBreakerUsecase) lockDenied(ctx context.Context, entry PatternAndCircuitHash, queueName string) error {
	if queueName == "" {
		return nil
	}
	if err := uc.LockQueue(ctx, entry.CircuitHash, queueName); err != nil {
		return fmt.Errorf("failed to lock queue %s: %w", queueName, err)
	}
	return nil
}

// RecordOutcome updates the statistics of the circuit the decision was made
// for. A failure that opens the circuit locks queueName. The outcome of a
// half open probe closes or reopens the circuit.
func (uc *QueueCircuitBreakerUsecase) RecordOutcome(ctx context.Context, queueName string, req Request, decision Decision, outcome model.Outcome) error {
	if !decision.Mapped {
		return nil
	}
	cfg := uc.config.Config()
	entry := decision.Circuit

	var errs []error
	if cfg.StatisticsUpdateEnabled && decision.State != model.StateOpen {
		result, err := uc.repo.UpdateStatistics(ctx, entry.Ref(), req.RequestID(), outcome, statisticsParams(cfg))
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to update statistics of %s: %w", entry.Pattern, err))
		case result == model.UpdateResultOpened:
			uc.log.Infow("msg", "circuit opened", "circuit", entry.Pattern, "queue", queueName)
			if queueName != "" {
				if err := uc.LockQueue(ctx, entry.CircuitHash, queueName); err != nil {
					errs = append(errs, fmt.Errorf("failed to lock queue %s: %w", queueName, err))
				}
			}
		}
	}

	if decision.State == model.StateHalfOpen && decision.Allowed {
		if outcome == model.OutcomeSuccess {
			if err := uc.repo.CloseCircuit(ctx, entry.CircuitHash); err != nil {
				errs = append(errs, err)
			} else {
				uc.log.Infow("msg", "probe succeeded, circuit closed", "circuit", entry.Pattern)
			}
		} else {
			if err := uc.repo.ReOpenCircuit(ctx, entry.CircuitHash); err != nil {
				errs = append(errs, err)
			} else {
				uc.log.Infow("msg", "probe failed, circuit reopened", "circuit", entry.Pattern)
			}
		}
		if decision.Probe() {
			if _, err := uc.lock.ReleaseLock(ctx, probeLockName(entry.CircuitHash), decision.probeToken); err != nil {
				uc.log.Warnw("msg", "failed to release probe slot", "circuit", entry.Pattern, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

// CircuitState returns the state of a circuit, closed when unknown.
func (uc *QueueCircuitBreakerUsecase) CircuitState(ctx context.Context, circuitHash string) (model.CircuitState, error) {
	return uc.repo.GetCircuitState(ctx, circuitHash)
}

// CircuitInformation returns the stored information of a circuit, nil when unknown.
func (uc *QueueCircuitBreakerUsecase) CircuitInformation(ctx context.Context, circuitHash string) (*model.CircuitInfo, error) {
	return uc.repo.GetCircuitInformation(ctx, circuitHash)
}

// AllCircuits returns every known circuit.
func (uc *QueueCircuitBreakerUsecase) AllCircuits(ctx context.Context) ([]*model.CircuitInfo, error) {
	return uc.repo.GetAllCircuits(ctx)
}

// CloseCircuit closes a circuit regardless of its state.
func (uc *QueueCircuitBreakerUsecase) CloseCircuit(ctx context.Context, circuitHash string) error {
	if err := uc.repo.CloseCircuit(ctx, circuitHash); err != nil {
		return err
	}
	uc.log.Infow("msg", "circuit closed", "circuit_hash", circuitHash)
	return nil
}

// CloseAllCircuits closes every open and half open circuit.
func (uc *QueueCircuitBreakerUsecase) CloseAllCircuits(ctx context.Context) error {
	hashes, err := uc.repo.ActiveCircuits(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(closeAllConcurrency)
	for _, hash := range hashes {
		g.Go(func() error {
			return uc.repo.CloseCircuit(gctx, hash)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to close all circuits: %w", err)
	}
	uc.log.Infow("msg", "all circuits closed", "count", len(hashes))
	return nil
}

// ReOpenCircuit sets a circuit back to open.
func (uc *QueueCircuitBreakerUsecase) ReOpenCircuit(ctx context.Context, circuitHash string) error {
	return uc.repo.ReOpenCircuit(ctx, circuitHash)
}

// LockQueue pauses queueName and remembers it for circuitHash.
func (uc *QueueCircuitBreakerUsecase) LockQueue(ctx context.Context, circuitHash, queueName string) error {
	if err := uc.repo.LockQueue(ctx, circuitHash, queueName); err != nil {
		return err
	}
	return uc.locker.LockQueue(ctx, queueName)
}

// UnlockQueue resumes queueName.
func (uc *QueueCircuitBreakerUsecase) UnlockQueue(ctx context.Context, queueName string) error {
	return uc.locker.UnlockQueue(ctx, queueName)
}

// UnlockNextQueue resumes the next queue scheduled for unlocking and returns
// its name, "" when nothing is scheduled. A queue that fails to unlock is
// not scheduled again.
func (uc *QueueCircuitBreakerUsecase) UnlockNextQueue(ctx context.Context) (string, error) {
	queueName, err := uc.repo.PopQueueToUnlock(ctx)
	if err != nil || queueName == "" {
		return "", err
	}
	if err := uc.locker.UnlockQueue(ctx, queueName); err != nil {
		uc.log.Errorw("msg", "failed to unlock queue", "queue", queueName, "error", err)
		return queueName, err
	}
	return queueName, nil
}

// RulesChanged applies a new rule table. Circuits of removed rules are
// closed and purged from the store.
func (uc *QueueCircuitBreakerUsecase) RulesChanged(ctx context.Context, rules []Rule) {
	removed := uc.mapping.Update(rules)
	uc.log.Infow("msg", "rule to circuit mapping updated", "rules", len(rules), "removed", len(removed))
	for _, entry := range removed {
		if err := uc.repo.CloseAndRemoveCircuit(ctx, entry.CircuitHash); err != nil {
			uc.log.Errorw("msg", "failed to remove circuit", "circuit", entry.Pattern, "error", err)
		}
	}
}

func statisticsParams(cfg BreakerConfig) model.StatisticsParams {
	return model.StatisticsParams{
		ErrorThresholdPercentage: cfg.ErrorThresholdPercentage,
		EntriesMaxAgeMS:          cfg.EntriesMaxAgeMS,
		MinQueueSampleCount:      cfg.MinQueueSampleCount,
		MaxQueueSampleCount:      cfg.MaxQueueSampleCount,
	}
}

func probeLockName(circuitHash string) string {
	return probeLockNamePrefix + circuitHash
}

func probeTTL(cfg BreakerConfig) time.Duration {
	ttl := cfg.UnlockSampleQueues.Duration()
	if ttl < minProbeTTL {
		return minProbeTTL
	}
	return ttl
}
