// Package metrics registers the daemon's Prometheus instrumentation
// (SPEC_FULL §4.2), adapted from the teacher's internal/escrow/metrics.go
// promauto registration style and Record*/Update* convenience method
// shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the daemon exposes. Construct once
// with New and share the instance across subsystems.
type Metrics struct {
	LifecycleTransitions *prometheus.CounterVec
	SamplingIterations   prometheus.Counter
	SamplerErrors        prometheus.Counter
	ProgressPercent      prometheus.Gauge
	ProgressRate         prometheus.Gauge
	ThresholdCrossings   prometheus.Counter
	DispatchOutcomes     *prometheus.CounterVec
	CircuitState         *prometheus.GaugeVec
	WorkerPoolBusy       prometheus.Gauge
	QueueDepth           prometheus.Gauge
	DispatchDuration     *prometheus.HistogramVec
}

// New registers every collector against reg. Pass prometheus.NewRegistry()
// for test isolation, or prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LifecycleTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moverd_lifecycle_transitions_total",
			Help: "Count of lifecycle state machine transitions by from/to state.",
		}, []string{"from", "to"}),

		SamplingIterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "moverd_sampling_iterations_total",
			Help: "Count of sampling loop iterations.",
		}),

		SamplerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "moverd_sampler_errors_total",
			Help: "Count of sampler errors encountered by the sampling loop.",
		}),

		ProgressPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moverd_progress_percent",
			Help: "Current cycle's progress percentage.",
		}),

		ProgressRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moverd_progress_rate_bytes_per_second",
			Help: "Current cycle's smoothed transfer rate in bytes per second.",
		}),

		ThresholdCrossings: factory.NewCounter(prometheus.CounterOpts{
			Name: "moverd_threshold_crossings_total",
			Help: "Count of progress thresholds crossed and dispatched.",
		}),

		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moverd_dispatch_outcomes_total",
			Help: "Count of dispatch outcomes by terminal status.",
		}, []string{"status"}),

		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moverd_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half_open, 2=open).",
		}, []string{"provider"}),

		WorkerPoolBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moverd_worker_pool_busy_workers",
			Help: "Number of worker pool workers currently executing a task.",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moverd_message_queue_depth",
			Help: "Current number of messages waiting in the dispatcher's queue.",
		}),

		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moverd_dispatch_duration_seconds",
			Help:    "Latency of a complete dispatch from enqueue to terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
	}
}

// RecordTransition increments the lifecycle transition counter for a
// from->to pair.
func (m *Metrics) RecordTransition(from, to string) {
	m.LifecycleTransitions.WithLabelValues(from, to).Inc()
}

// RecordSamplingIteration increments the sampling iteration counter.
func (m *Metrics) RecordSamplingIteration() {
	m.SamplingIterations.Inc()
}

// RecordSamplerError increments the sampler error counter.
func (m *Metrics) RecordSamplerError() {
	m.SamplerErrors.Inc()
}

// UpdateProgress sets the progress percent and rate gauges.
func (m *Metrics) UpdateProgress(percent, rate float64) {
	m.ProgressPercent.Set(percent)
	m.ProgressRate.Set(rate)
}

// RecordThresholdCrossing increments the threshold crossing counter.
func (m *Metrics) RecordThresholdCrossing() {
	m.ThresholdCrossings.Inc()
}

// RecordDispatchOutcome increments the dispatch outcome counter and
// observes its duration, both labeled by terminal status.
func (m *Metrics) RecordDispatchOutcome(status string, durationSeconds float64) {
	m.DispatchOutcomes.WithLabelValues(status).Inc()
	m.DispatchDuration.WithLabelValues(status).Observe(durationSeconds)
}

// circuitStateValue maps a breaker state name to the gauge's numeric
// encoding.
func circuitStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// UpdateCircuitState sets the per-provider circuit breaker state gauge.
func (m *Metrics) UpdateCircuitState(provider, state string) {
	m.CircuitState.WithLabelValues(provider).Set(circuitStateValue(state))
}

// UpdateWorkerPoolBusy sets the busy-worker gauge.
func (m *Metrics) UpdateWorkerPoolBusy(n int) {
	m.WorkerPoolBusy.Set(float64(n))
}

// UpdateQueueDepth sets the message queue depth gauge.
func (m *Metrics) UpdateQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
