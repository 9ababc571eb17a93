package biz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"Gateleen/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMetricsCollector(t *testing.T) (*MetricsCollector, *MockCircuitRepo, *MockLock, *prometheus.Registry) {
	t.Helper()
	repo := new(MockCircuitRepo)
	lock := new(MockLock)
	reg := prometheus.NewRegistry()
	collector := NewMetricsCollector(repo, NewTaskLocker(lock, testBreakerConf(), testLogger), reg, testBreakerConf(), testLogger)
	return collector, repo, lock, reg
}

func TestMetricsCollector_PublishesCircuits(t *testing.T) {
	collector, repo, lock, reg := newTestMetricsCollector(t)
	lock.On("AcquireLock", mock.Anything, LockCollectMetrics, mock.Anything, mock.Anything).Return(true, nil)
	lock.On("ReleaseLock", mock.Anything, LockCollectMetrics, mock.Anything).Return(true, nil).Once()
	repo.On("GetAllCircuits", mock.Anything).Return([]*model.CircuitInfo{
		{Hash: "h1", MetricName: "M1", Status: "closed", FailRatio: 10},
		{Hash: "h2", MetricName: "M2", Status: "half_open", FailRatio: 55},
		{Hash: "h3", MetricName: "M3", Status: "open", FailRatio: 99},
		{Hash: "h4", Status: "open", FailRatio: 100},
		{Hash: "h5", MetricName: "M5", FailRatio: 1},
		{Hash: "h6", MetricName: "M6", Status: "broken"},
	}, nil)

	require.NoError(t, collector.Collect(context.Background()))

	expected := `
# HELP gateleen_circuitbreaker_failratio Percentage of failed requests in the sample window of the circuit.
# TYPE gateleen_circuitbreaker_failratio gauge
gateleen_circuitbreaker_failratio{metricName="M1"} 10
gateleen_circuitbreaker_failratio{metricName="M2"} 55
gateleen_circuitbreaker_failratio{metricName="M3"} 99
# HELP gateleen_circuitbreaker_status Circuit state, 0 closed, 1 half open, 2 open.
# TYPE gateleen_circuitbreaker_status gauge
gateleen_circuitbreaker_status{metricName="M1"} 0
gateleen_circuitbreaker_status{metricName="M2"} 1
gateleen_circuitbreaker_status{metricName="M3"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"gateleen_circuitbreaker_status", "gateleen_circuitbreaker_failratio"))
	lock.AssertExpectations(t)
}

func TestMetricsCollector_StorageFailurePublishesNothing(t *testing.T) {
	collector, repo, lock, reg := newTestMetricsCollector(t)
	lock.On("AcquireLock", mock.Anything, LockCollectMetrics, mock.Anything, mock.Anything).Return(true, nil)
	lock.On("ReleaseLock", mock.Anything, LockCollectMetrics, mock.Anything).Return(true, nil).Once()
	repo.On("GetAllCircuits", mock.Anything).Return(nil, errors.New("redis down"))

	assert.Error(t, collector.Collect(context.Background()))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, count)
	lock.AssertNumberOfCalls(t, "ReleaseLock", 1)
}

func TestMetricsCollector_SkipsWithoutLock(t *testing.T) {
	collector, repo, lock, _ := newTestMetricsCollector(t)
	lock.On("AcquireLock", mock.Anything, LockCollectMetrics, mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, collector.Collect(context.Background()))
	repo.AssertNotCalled(t, "GetAllCircuits", mock.Anything)
}
