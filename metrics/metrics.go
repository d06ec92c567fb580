// Package metrics provides Prometheus instrumentation for the workflow
// engine, adapted from the graph engine's PrometheusMetrics collector this
// project is descended from.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine records to. All
// metrics are namespaced "wkf". Construct with New and pass nil to use
// prometheus.DefaultRegisterer.
type Metrics struct {
	ticksInflight   prometheus.Gauge
	queueDepth      *prometheus.GaugeVec
	stepLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	lifetimeClamped prometheus.Counter
	hooksResumed    prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// New registers every collector with registry (prometheus.DefaultRegisterer
// if nil) and returns the resulting Metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.ticksInflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "wkf",
		Name:      "ticks_inflight",
		Help:      "Number of run ticks currently being processed by dispatch workers.",
	})

	m.queueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wkf",
		Name:      "queue_depth",
		Help:      "Number of messages currently pending in a queue.",
	}, []string{"queue"})

	m.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wkf",
		Name:      "step_latency_ms",
		Help:      "Step attempt duration in milliseconds, from dispatch to terminal event.",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"step_id", "status"})

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wkf",
		Name:      "retries_total",
		Help:      "Cumulative step retry attempts.",
	}, []string{"step_id", "reason"})

	m.lifetimeClamped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "wkf",
		Name:      "lifetime_clamped_total",
		Help:      "Messages whose requested handler timeout was clamped to the queue's remaining lifetime budget.",
	})

	m.hooksResumed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "wkf",
		Name:      "hooks_resumed_total",
		Help:      "Hooks successfully resumed exactly once.",
	})

	return m
}

// RecordStepLatency observes a step attempt's duration in the step_latency_ms
// histogram, labeled by step id and outcome status ("success", "failed",
// "retrying", "exhausted").
func (m *Metrics) RecordStepLatency(stepID string, latency time.Duration, status string) {
	if !m.isEnabled() {
		return
	}
	m.stepLatency.WithLabelValues(stepID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries increments the retries_total counter for stepID, labeled
// with the classified reason the attempt was retried.
func (m *Metrics) IncrementRetries(stepID, reason string) {
	if !m.isEnabled() {
		return
	}
	m.retries.WithLabelValues(stepID, reason).Inc()
}

// SetQueueDepth sets the current depth gauge for a named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if !m.isEnabled() {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetTicksInflight sets the number of ticks currently being dispatched.
func (m *Metrics) SetTicksInflight(count int) {
	if !m.isEnabled() {
		return
	}
	m.ticksInflight.Set(float64(count))
}

// IncrementLifetimeClamped increments the lifetime_clamped_total counter,
// recorded whenever a message's requested handler timeout is clamped to the queue's
// remaining lifetime budget.
func (m *Metrics) IncrementLifetimeClamped() {
	if !m.isEnabled() {
		return
	}
	m.lifetimeClamped.Inc()
}

// IncrementHooksResumed increments the hooks_resumed_total counter.
func (m *Metrics) IncrementHooksResumed() {
	if !m.isEnabled() {
		return
	}
	m.hooksResumed.Inc()
}

// Disable stops metric recording; useful in tests exercising engine
// behavior without caring about metric side effects.
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables metric recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}
