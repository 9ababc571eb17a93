package biz

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// QueueingStrategy describes how requests of a rule are queued. It is one of
// DefaultQueueingStrategy, DiscardPayloadQueueingStrategy or
// ReducedPropagationQueueingStrategy.
type QueueingStrategy interface {
	Kind() string
	isQueueingStrategy()
}

// DefaultQueueingStrategy queues requests unchanged.
type DefaultQueueingStrategy struct{}

// DiscardPayloadQueueingStrategy queues requests without their body.
type DiscardPayloadQueueingStrategy struct{}

// ReducedPropagationQueueingStrategy collapses requests to one per interval.
type ReducedPropagationQueueingStrategy struct {
	Interval time.Duration
}

func (DefaultQueueingStrategy) Kind() string            { return "default" }
func (DiscardPayloadQueueingStrategy) Kind() string     { return "discardPayload" }
func (ReducedPropagationQueueingStrategy) Kind() string { return "reducedPropagation" }

func (DefaultQueueingStrategy) isQueueingStrategy()            {}
func (DiscardPayloadQueueingStrategy) isQueueingStrategy()     {}
func (ReducedPropagationQueueingStrategy) isQueueingStrategy() {}

// ParseQueueingStrategy builds a strategy from a queueingStrategy object
// such as {"type":"reducedPropagation","interval":5000}. A missing object
// yields the default strategy. Invalid configuration yields the default
// strategy together with an error describing what was ignored.
func ParseQueueingStrategy(raw gjson.Result) (QueueingStrategy, error) {
	if !raw.Exists() || raw.Type == gjson.Null {
		return DefaultQueueingStrategy{}, nil
	}
	if !raw.IsObject() {
		return DefaultQueueingStrategy{}, fmt.Errorf("invalid queueingStrategy configuration %s", raw.Raw)
	}

	kind := raw.Get("type").String()
	switch strings.ToLower(kind) {
	case "discardpayload":
		return DiscardPayloadQueueingStrategy{}, nil
	case "reducedpropagation":
		interval := raw.Get("interval")
		if interval.Type != gjson.Number || interval.Int() <= 0 || float64(interval.Int()) != interval.Float() {
			return DefaultQueueingStrategy{}, fmt.Errorf("invalid reducedPropagation interval in %s", raw.Raw)
		}
		return ReducedPropagationQueueingStrategy{Interval: time.Duration(interval.Int()) * time.Millisecond}, nil
	default:
		return DefaultQueueingStrategy{}, fmt.Errorf("unknown queueingStrategy type %q in %s", kind, raw.Raw)
	}
}
