package biz

import (
	"context"
	"time"

	"Gateleen/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// LockCollectMetrics guards the metrics collection of all instances.
const LockCollectMetrics = "collectCircuitBreakerMetrics"

const (
	metricsNamespace = "gateleen"
	metricsSubsystem = "circuitbreaker"
	metricNameLabel  = "metricName"
)

// NewPrometheusRegistry creates the registry the service exposes on /metrics.
func NewPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsCollector publishes the state and fail ratio of every circuit that
// has a metric name.
type MetricsCollector struct {
	repo     CircuitRepo
	tasks    *TaskLocker
	interval time.Duration

	status    *prometheus.GaugeVec
	failRatio *prometheus.GaugeVec
	log       *log.Helper
}

// NewMetricsCollector creates the collector and registers its gauges on reg.
func NewMetricsCollector(repo CircuitRepo, tasks *TaskLocker, reg *prometheus.Registry, c *conf.Breaker, logger log.Logger) *MetricsCollector {
	var interval time.Duration
	if c != nil {
		interval = c.MetricsInterval
	}
	m := &MetricsCollector{
		repo:     repo,
		tasks:    tasks,
		interval: interval,
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "status",
			Help:      "Circuit state, 0 closed, 1 half open, 2 open.",
		}, []string{metricNameLabel}),
		failRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "failratio",
			Help:      "Percentage of failed requests in the sample window of the circuit.",
		}, []string{metricNameLabel}),
		log: log.NewHelper(log.With(logger, "module", "biz/metrics")),
	}
	reg.MustRegister(m.status, m.failRatio)
	return m
}

// Interval returns the collection interval.
func (m *MetricsCollector) Interval() time.Duration {
	return m.interval
}

// Collect refreshes the gauges when this instance holds the metrics lock.
// A storage failure leaves the gauges untouched.
func (m *MetricsCollector) Collect(ctx context.Context) error {
	return m.tasks.Run(ctx, LockCollectMetrics, m.interval, m.collect)
}

func (m *MetricsCollector) collect(ctx context.Context) error {
	circuits, err := m.repo.GetAllCircuits(ctx)
	if err != nil {
		return err
	}

	published := 0
	for _, info := range circuits {
		if info.MetricName == "" {
			m.log.Debugw("msg", "circuit without metric name, skipping", "circuit", info.Circuit)
			continue
		}
		state, err := info.State()
		if err != nil {
			m.log.Warnw("msg", "circuit without valid status, skipping", "metric_name", info.MetricName, "error", err)
			continue
		}
		m.status.WithLabelValues(info.MetricName).Set(float64(state))
		m.failRatio.WithLabelValues(info.MetricName).Set(float64(info.FailRatio))
		published++
	}
	m.log.Debugw("msg", "circuit metrics collected", "circuits", len(circuits), "published", published)
	return nil
}
