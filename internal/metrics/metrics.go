// Package metrics exposes pipeline counters and gauges to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/docintake/constants"
)

const namespace = "docintake"

// Metrics implements the observer hooks of ingest, async and pipeline.
type Metrics struct {
	intake      *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	taskSeconds prometheus.Histogram
	active      prometheus.Gauge
	queueDepth  prometheus.Gauge
	batches     *prometheus.CounterVec
	pages       prometheus.Counter
	batchTime   prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "files_total",
			Help:      "Files seen by the watcher, by intake outcome.",
		}, []string{"outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "tasks_total",
			Help:      "Dispatcher tasks finished, by outcome.",
		}, []string{"outcome"}),
		taskSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "task_duration_seconds",
			Help:      "Wall time of dispatcher tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "active_tasks",
			Help:      "Batches currently being processed.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Batches waiting for a worker.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "batches_total",
			Help:      "Batches that reached a terminal status.",
		}, []string{"status"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "pages_total",
			Help:      "Pages rendered, recognized and stored.",
		}),
		batchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "batch_duration_seconds",
			Help:      "Processing time of batches from start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
	}
	reg.MustRegister(m.intake, m.tasks, m.taskSeconds, m.active, m.queueDepth, m.batches, m.pages, m.batchTime)
	return m
}

func (m *Metrics) ObserveIntake(outcome string) {
	m.intake.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActive(n int) {
	m.active.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ObserveTask(outcome string, elapsed time.Duration) {
	m.tasks.WithLabelValues(outcome).Inc()
	m.taskSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBatch(status constants.BatchStatus, elapsed time.Duration, pages int) {
	m.batches.WithLabelValues(string(status)).Inc()
	m.pages.Add(float64(pages))
	if elapsed > 0 {
		m.batchTime.Observe(elapsed.Seconds())
	}
}
