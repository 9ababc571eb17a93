package model

import (
	"fmt"
	"strings"
)

// CircuitState represents the current state of a queue circuit
type CircuitState int

// The numeric values are published as the status gauge.
const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

// String returns the store representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseCircuitState parses the store representation of a state, case-insensitive.
func ParseCircuitState(raw string) (CircuitState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "closed":
		return StateClosed, nil
	case "half_open":
		return StateHalfOpen, nil
	case "open":
		return StateOpen, nil
	default:
		return StateClosed, fmt.Errorf("unknown circuit state %q", raw)
	}
}

// Outcome is the result of a queued delivery
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeFailure {
		return "failure"
	}
	return "success"
}

// UpdateResult is returned by a statistics update
type UpdateResult int

const (
	// UpdateResultOK means the sample was recorded without a state change
	UpdateResultOK UpdateResult = iota
	// UpdateResultOpened means the sample pushed a closed circuit open
	UpdateResultOpened
)

// CircuitRef identifies a circuit in the store together with the values
// persisted alongside its statistics.
type CircuitRef struct {
	Hash       string
	Pattern    string
	MetricName string
}

// CircuitInfo is the stored view of a circuit. Status holds the raw state
// field so callers can detect missing or corrupt entries.
type CircuitInfo struct {
	Hash       string
	Circuit    string
	MetricName string
	Status     string
	FailRatio  int
	OpenedAt   int64
}

// State parses the raw status field
func (i *CircuitInfo) State() (CircuitState, error) {
	if i.Status == "" {
		return StateClosed, fmt.Errorf("circuit %s has no status", i.Hash)
	}
	return ParseCircuitState(i.Status)
}

// StatisticsParams carry the thresholds a statistics update is evaluated against
type StatisticsParams struct {
	ErrorThresholdPercentage int
	EntriesMaxAgeMS          int64
	MinQueueSampleCount      int
	MaxQueueSampleCount      int
}
