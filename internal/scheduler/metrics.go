package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "handoff"
	metricsSubsystem = "scheduler"
)

// Metrics exposes Prometheus collectors that report scheduler activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	admitted *prometheus.CounterVec
	finished *prometheus.CounterVec
	retries  prometheus.Counter
	running  prometheus.Gauge
	queued   prometheus.Gauge
	duration *prometheus.HistogramVec
	savings  prometheus.Counter
}

// NewMetrics constructs the scheduler collectors and registers them with
// reg. Collectors that are already registered are reused, so several
// schedulers in one process can share a registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_admitted_total",
			Help:      "Delegated tasks handed to a worker, by worker type.",
		}, []string{"worker_type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_finished_total",
			Help:      "Delegated tasks that reached a terminal state, by state.",
		}, []string{"state"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "task_retries_total",
			Help:      "Failed tasks put back on the queue.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_running",
			Help:      "Tasks currently holding a worker slot.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_queued",
			Help:      "Tasks waiting for a worker slot.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Wall time of delegated tasks, by worker type and outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"worker_type", "state"}),
		savings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "estimated_tokens_saved_total",
			Help:      "Estimated context tokens saved by completed delegations.",
		}),
	}

	if err := registerOrReuse(reg, &m.admitted); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.finished); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.retries); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.running); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.queued); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.savings); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers *c, swapping in the existing collector when an
// identical one is already registered.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return err
		}
		*c = existing
	}
	return nil
}

func (m *Metrics) taskAdmitted(workerType string) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(workerType).Inc()
}

func (m *Metrics) taskFinished(workerType, state string, d time.Duration, saved int) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(state).Inc()
	if d > 0 {
		m.duration.WithLabelValues(workerType, state).Observe(d.Seconds())
	}
	if saved > 0 {
		m.savings.Add(float64(saved))
	}
}

func (m *Metrics) taskRetried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) setDepth(running, queued int) {
	if m == nil {
		return
	}
	m.running.Set(float64(running))
	m.queued.Set(float64(queued))
}

// WriteTextfile writes everything gathered by g to path in the Prometheus
// text format, for a node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
