// Package metrics exposes Prometheus counters for planning and delivery.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nudge"

type Metrics struct {
	registry *prometheus.Registry

	deliveries     *prometheus.CounterVec
	commits        *prometheus.CounterVec
	generations    *prometheus.CounterVec
	timersStarted  prometheus.Counter
	timersCanceled prometheus.Counter
	timersPending  prometheus.Gauge
	sweeps         *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Push deliveries by trigger source and outcome.",
		}, []string{"source", "outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_commits_total",
			Help:      "Plan commit requests by outcome.",
		}, []string{"outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_generations_total",
			Help:      "Plan generations by result (parsed or fallback).",
		}, []string{"result"}),
		timersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_scheduled_total",
			Help:      "Scheduled deliveries created.",
		}),
		timersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_canceled_total",
			Help:      "Scheduled deliveries canceled before firing.",
		}),
		timersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timers_pending",
			Help:      "Scheduled deliveries waiting to fire.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_sweeps_total",
			Help:      "Daily reminder sweeps by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.deliveries,
		m.commits,
		m.generations,
		m.timersStarted,
		m.timersCanceled,
		m.timersPending,
		m.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Delivery(source, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Commit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Generation(result string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(result).Inc()
}

func (m *Metrics) TimerScheduled() {
	if m == nil {
		return
	}
	m.timersStarted.Inc()
	m.timersPending.Inc()
}

func (m *Metrics) TimerFired() {
	if m == nil {
		return
	}
	m.timersPending.Dec()
}

func (m *Metrics) TimersCanceled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.timersCanceled.Add(float64(n))
	m.timersPending.Sub(float64(n))
}

func (m *Metrics) Sweep(outcome string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
}
