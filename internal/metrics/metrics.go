// Package metrics exposes the dispatch pool's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricPrefix = "bulkload_"

// OutcomeSuccess labels tasks that completed without error.
const OutcomeSuccess = "success"

// Metrics records pool activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	tasksDispatched    prometheus.Counter
	taskOutcomes       *prometheus.CounterVec
	taskDuration       prometheus.Histogram
	rows               *prometheus.CounterVec
	pendingTasks       prometheus.Gauge
	liveWorkers        prometheus.Gauge
	discardedResponses prometheus.Counter
	workerExits        *prometheus.CounterVec
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "pool_tasks_dispatched_total",
			Help: "Number of batches handed to a worker",
		}),
		taskOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "pool_task_outcomes_total",
			Help: "Number of resolved batches by outcome",
		}, []string{"outcome"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPrefix + "pool_task_duration_seconds",
			Help:    "Time from dispatch to resolution of a batch",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "rows_total",
			Help: "Number of rows reported by workers",
		}, []string{"status"}),
		pendingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: MetricPrefix + "pool_pending_tasks",
			Help: "Number of dispatched batches awaiting resolution",
		}),
		liveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: MetricPrefix + "pool_live_workers",
			Help: "Number of workers eligible for dispatch",
		}),
		discardedResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "pool_discarded_responses_total",
			Help: "Number of worker responses with no pending task, such as replies after a timeout",
		}),
		workerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "pool_worker_exits_total",
			Help: "Number of worker exits by whether they were requested",
		}, []string{"expected"}),
	}
}

func (m *Metrics) RecordDispatch() {
	if m == nil {
		return
	}
	m.tasksDispatched.Inc()
}

// RecordOutcome counts a resolved task. outcome is OutcomeSuccess or an error kind.
func (m *Metrics) RecordOutcome(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(outcome).Inc()
	m.taskDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRows(processed, skipped int) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues("processed").Add(float64(processed))
	m.rows.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingTasks.Set(float64(n))
}

func (m *Metrics) SetLiveWorkers(n int) {
	if m == nil {
		return
	}
	m.liveWorkers.Set(float64(n))
}

func (m *Metrics) RecordDiscardedResponse() {
	if m == nil {
		return
	}
	m.discardedResponses.Inc()
}

func (m *Metrics) RecordWorkerExit(expected bool) {
	if m == nil {
		return
	}
	if expected {
		m.workerExits.WithLabelValues("true").Inc()
	} else {
		m.workerExits.WithLabelValues("false").Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
