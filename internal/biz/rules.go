package biz

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/tidwall/gjson"
)

// Rule is the part of a routing rule the breaker cares about.
type Rule struct {
	Pattern          string
	MetricName       string
	QueueingStrategy QueueingStrategy
}

// ParseRules reads a routing rules document of the form
// {"<urlPattern>": {"metricName": "...", "queueingStrategy": {...}}, ...}
// keeping document order. Rule entries that are not objects are skipped.
// Invalid queueing strategies fall back to the default strategy and are
// reported through warn.
func ParseRules(doc []byte, warn func(pattern string, err error)) ([]Rule, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("invalid routing rules document")
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return nil, fmt.Errorf("routing rules document must be an object")
	}

	var rules []Rule
	root.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			if warn != nil {
				warn(key.String(), fmt.Errorf("rule is not an object"))
			}
			return true
		}
		strategy, err := ParseQueueingStrategy(value.Get("queueingStrategy"))
		if err != nil && warn != nil {
			warn(key.String(), err)
		}
		rules = append(rules, Rule{
			Pattern:          key.String(),
			MetricName:       value.Get("metricName").String(),
			QueueingStrategy: strategy,
		})
		return true
	})
	return rules, nil
}

// RuleReloader keeps the rule to circuit mapping in sync with the rule source.
// It implements transport.Server so it runs inside the kratos app lifecycle.
type RuleReloader struct {
	source  RuleSource
	breaker *QueueCircuitBreakerUsecase
	log     *log.Helper

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRuleReloader creates a new rule reloader.
func NewRuleReloader(source RuleSource, breaker *QueueCircuitBreakerUsecase, logger log.Logger) *RuleReloader {
	return &RuleReloader{
		source:  source,
		breaker: breaker,
		log:     log.NewHelper(log.With(logger, "module", "biz/rules")),
	}
}

// Load reads and applies the current rules document.
func (r *RuleReloader) Load(ctx context.Context) error {
	doc, err := r.source.LoadRules()
	if err != nil {
		return err
	}
	return r.apply(ctx, doc)
}

func (r *RuleReloader) apply(ctx context.Context, doc []byte) error {
	rules, err := ParseRules(doc, func(pattern string, err error) {
		r.log.Warnw("msg", "rule configuration ignored", "pattern", pattern, "error", err)
	})
	if err != nil {
		return err
	}
	r.breaker.RulesChanged(ctx, rules)
	return nil
}

// Start loads the rules and watches the source for changes.
func (r *RuleReloader) Start(ctx context.Context) error {
	if err := r.Load(ctx); err != nil {
		return fmt.Errorf("failed to load routing rules: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.source.WatchRules(watchCtx, func(doc []byte) {
			if err := r.apply(watchCtx, doc); err != nil {
				r.log.Errorw("msg", "failed to apply routing rules", "error", err)
			}
		})
		if err != nil {
			r.log.Errorw("msg", "routing rules watcher stopped", "error", err)
		}
	}()
	return nil
}

// Stop stops watching the rule source.
func (r *RuleReloader) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
