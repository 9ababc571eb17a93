package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// TaskConfig configures one periodic maintenance task. Interval is in ms.
type TaskConfig struct {
	Enabled  bool  `json:"enabled"`
	Interval int64 `json:"interval"`
}

// Duration returns the interval as a time.Duration.
func (t TaskConfig) Duration() time.Duration {
	return time.Duration(t.Interval) * time.Millisecond
}

// BreakerConfig is the runtime configuration of the queue circuit breaker.
type BreakerConfig struct {
	CircuitCheckEnabled      bool       `json:"circuitCheckEnabled"`
	StatisticsUpdateEnabled  bool       `json:"statisticsUpdateEnabled"`
	ErrorThresholdPercentage int        `json:"errorThresholdPercentage"`
	EntriesMaxAgeMS          int64      `json:"entriesMaxAgeMS"`
	MinQueueSampleCount      int        `json:"minQueueSampleCount"`
	MaxQueueSampleCount      int        `json:"maxQueueSampleCount"`
	OpenToHalfOpen           TaskConfig `json:"openToHalfOpen"`
	UnlockQueues             TaskConfig `json:"unlockQueues"`
	UnlockSampleQueues       TaskConfig `json:"unlockSampleQueues"`
}

// DefaultBreakerConfig returns the configuration used when none is stored.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThresholdPercentage: 90,
		EntriesMaxAgeMS:          86400000,
		MinQueueSampleCount:      100,
		MaxQueueSampleCount:      5000,
		OpenToHalfOpen:           TaskConfig{Interval: 120000},
		UnlockQueues:             TaskConfig{Interval: 10000},
		UnlockSampleQueues:       TaskConfig{Interval: 120000},
	}
}

// FieldError describes one invalid configuration field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for configuration documents that cannot be applied.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.Field + ": " + d.Message
	}
	return "invalid circuit breaker configuration: " + strings.Join(parts, "; ")
}

type rawTaskConfig struct {
	Enabled  *bool  `json:"enabled"`
	Interval *int64 `json:"interval"`
}

type rawBreakerConfig struct {
	CircuitCheckEnabled      *bool          `json:"circuitCheckEnabled"`
	StatisticsUpdateEnabled  *bool          `json:"statisticsUpdateEnabled"`
	ErrorThresholdPercentage *int           `json:"errorThresholdPercentage"`
	EntriesMaxAgeMS          *int64         `json:"entriesMaxAgeMS"`
	MinQueueSampleCount      *int           `json:"minQueueSampleCount"`
	MaxQueueSampleCount      *int           `json:"maxQueueSampleCount"`
	OpenToHalfOpen           *rawTaskConfig `json:"openToHalfOpen"`
	UnlockQueues             *rawTaskConfig `json:"unlockQueues"`
	UnlockSampleQueues       *rawTaskConfig `json:"unlockSampleQueues"`
}

// ParseBreakerConfig decodes and validates a configuration document.
// Every field is required and unknown fields are rejected.
func ParseBreakerConfig(doc []byte) (BreakerConfig, error) {
	var raw rawBreakerConfig
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return BreakerConfig{}, &ValidationError{Details: []FieldError{{Field: "$", Message: err.Error()}}}
	}

	var details []FieldError
	missing := func(field string) {
		details = append(details, FieldError{Field: field, Message: "is required"})
	}

	var cfg BreakerConfig
	if raw.CircuitCheckEnabled == nil {
		missing("circuitCheckEnabled")
	} else {
		cfg.CircuitCheckEnabled = *raw.CircuitCheckEnabled
	}
	if raw.StatisticsUpdateEnabled == nil {
		missing("statisticsUpdateEnabled")
	} else {
		cfg.StatisticsUpdateEnabled = *raw.StatisticsUpdateEnabled
	}
	if raw.ErrorThresholdPercentage == nil {
		missing("errorThresholdPercentage")
	} else {
		cfg.ErrorThresholdPercentage = *raw.ErrorThresholdPercentage
	}
	if raw.EntriesMaxAgeMS == nil {
		missing("entriesMaxAgeMS")
	} else {
		cfg.EntriesMaxAgeMS = *raw.EntriesMaxAgeMS
	}
	if raw.MinQueueSampleCount == nil {
		missing("minQueueSampleCount")
	} else {
		cfg.MinQueueSampleCount = *raw.MinQueueSampleCount
	}
	if raw.MaxQueueSampleCount == nil {
		missing("maxQueueSampleCount")
	} else {
		cfg.MaxQueueSampleCount = *raw.MaxQueueSampleCount
	}

	tasks := []struct {
		name string
		raw  *rawTaskConfig
		dst  *TaskConfig
	}{
		{"openToHalfOpen", raw.OpenToHalfOpen, &cfg.OpenToHalfOpen},
		{"unlockQueues", raw.UnlockQueues, &cfg.UnlockQueues},
		{"unlockSampleQueues", raw.UnlockSampleQueues, &cfg.UnlockSampleQueues},
	}
	for _, task := range tasks {
		if task.raw == nil {
			missing(task.name)
			continue
		}
		if task.raw.Enabled == nil {
			missing(task.name + ".enabled")
		} else {
			task.dst.Enabled = *task.raw.Enabled
		}
		if task.raw.Interval == nil {
			missing(task.name + ".interval")
		} else {
			task.dst.Interval = *task.raw.Interval
		}
	}

	if len(details) > 0 {
		return BreakerConfig{}, &ValidationError{Details: details}
	}
	if err := cfg.Validate(); err != nil {
		return BreakerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the value invariants of the configuration.
func (c BreakerConfig) Validate() error {
	var details []FieldError
	invalid := func(field, msg string) {
		details = append(details, FieldError{Field: field, Message: msg})
	}

	if c.ErrorThresholdPercentage < 0 || c.ErrorThresholdPercentage > 100 {
		invalid("errorThresholdPercentage", "must be between 0 and 100")
	}
	if c.EntriesMaxAgeMS <= 0 {
		invalid("entriesMaxAgeMS", "must be > 0")
	}
	if c.MinQueueSampleCount < 0 {
		invalid("minQueueSampleCount", "must be >= 0")
	}
	if c.MaxQueueSampleCount < c.MinQueueSampleCount {
		invalid("maxQueueSampleCount", "must be >= minQueueSampleCount")
	}
	if c.OpenToHalfOpen.Interval <= 0 {
		invalid("openToHalfOpen.interval", "must be > 0")
	}
	if c.UnlockQueues.Interval <= 0 {
		invalid("unlockQueues.interval", "must be > 0")
	}
	if c.UnlockSampleQueues.Interval <= 0 {
		invalid("unlockSampleQueues.interval", "must be > 0")
	}

	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

// ConfigListener is called with the new configuration after every change.
type ConfigListener func(BreakerConfig)

// ConfigManager holds the active configuration and keeps it in sync with
// the shared store across instances.
type ConfigManager struct {
	repo    ConfigRepo
	current atomic.Pointer[BreakerConfig]
	log     *log.Helper

	mu        sync.Mutex
	listeners []ConfigListener
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewConfigManager creates a manager holding the default configuration.
func NewConfigManager(repo ConfigRepo, logger log.Logger) *ConfigManager {
	m := &ConfigManager{
		repo: repo,
		log:  log.NewHelper(log.With(logger, "module", "biz/config")),
	}
	cfg := DefaultBreakerConfig()
	m.current.Store(&cfg)
	return m
}

// Config returns the active configuration.
func (m *ConfigManager) Config() BreakerConfig {
	return *m.current.Load()
}

// Document returns the active configuration as JSON.
func (m *ConfigManager) Document() ([]byte, error) {
	return json.Marshal(m.Config())
}

// AddListener registers fn for configuration changes.
func (m *ConfigManager) AddListener(fn ConfigListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Update validates doc, stores it and applies it on every instance.
// An invalid document returns *ValidationError and keeps the prior config.
func (m *ConfigManager) Update(ctx context.Context, doc []byte) error {
	cfg, err := ParseBreakerConfig(doc)
	if err != nil {
		return err
	}
	if err := m.repo.SaveConfig(ctx, doc); err != nil {
		return err
	}
	m.apply(cfg)
	m.publish(ctx)
	return nil
}

// Reset removes the stored configuration and restores the defaults.
func (m *ConfigManager) Reset(ctx context.Context) error {
	if err := m.repo.DeleteConfig(ctx); err != nil {
		return err
	}
	m.apply(DefaultBreakerConfig())
	m.publish(ctx)
	return nil
}

// Reload applies the stored configuration, or the defaults when none is stored.
func (m *ConfigManager) Reload(ctx context.Context) error {
	doc, err := m.repo.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		m.apply(DefaultBreakerConfig())
		return nil
	}
	cfg, err := ParseBreakerConfig(doc)
	if err != nil {
		return err
	}
	m.apply(cfg)
	return nil
}

func (m *ConfigManager) apply(cfg BreakerConfig) {
	m.current.Store(&cfg)
	m.log.Infow("msg", "circuit breaker configuration applied",
		"circuit_check", cfg.CircuitCheckEnabled,
		"statistics_update", cfg.StatisticsUpdateEnabled,
		"error_threshold", cfg.ErrorThresholdPercentage)

	m.mu.Lock()
	listeners := append([]ConfigListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func (m *ConfigManager) publish(ctx context.Context) {
	if err := m.repo.PublishConfigUpdated(ctx); err != nil {
		// other instances pick the change up on their next reload
		m.log.Warnw("msg", "failed to publish configuration update", "error", err)
	}
}

// Start loads the stored configuration and follows updates published by
// other instances.
func (m *ConfigManager) Start(ctx context.Context) error {
	if err := m.Reload(ctx); err != nil {
		m.log.Errorw("msg", "failed to load stored configuration, using current", "error", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	updates, err := m.repo.WatchConfigUpdates(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch configuration updates: %w", err)
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		for range updates {
			if err := m.Reload(watchCtx); err != nil {
				m.log.Errorw("msg", "failed to reload configuration", "error", err)
			}
		}
	}()
	return nil
}

// Stop stops following configuration updates.
func (m *ConfigManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
