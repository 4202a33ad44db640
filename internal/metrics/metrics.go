// Package metrics exposes the agent's own operational counters. Every method
// is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostwatch"

type Metrics struct {
	registry          *prometheus.Registry
	cycles            *prometheus.CounterVec
	stageSeconds      *prometheus.HistogramVec
	publishes         *prometheus.CounterVec
	publishedBytes    *prometheus.CounterVec
	containerFailures prometheus.Counter
	databaseFailures  *prometheus.CounterVec
	commands          *prometheus.CounterVec
	fetchErrors       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_cycles_total",
			Help:      "Collection cycles by result.",
		}, []string{"result"}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_stage_duration_seconds",
			Help:      "Time spent in each collection stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Messages published by subject and result.",
		}, []string{"subject", "result"}),
		publishedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_bytes_total",
			Help:      "Payload bytes published by subject.",
		}, []string{"subject"}),
		containerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_inspect_failures_total",
			Help:      "Containers dropped from a cycle because inspection failed.",
		}),
		databaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_probe_failures_total",
			Help:      "Database instances skipped in a cycle, by engine.",
		}, []string{"engine"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound commands by outcome.",
		}, []string{"result"}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_fetch_errors_total",
			Help:      "Failed command fetches from the broker.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.stageSeconds,
		m.publishes,
		m.publishedBytes,
		m.containerFailures,
		m.databaseFailures,
		m.commands,
		m.fetchErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCycle(err error) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObservePublish(subject string, size int, err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(subject, result(err)).Inc()
	if err == nil {
		m.publishedBytes.WithLabelValues(subject).Add(float64(size))
	}
}

func (m *Metrics) ContainerInspectFailed() {
	if m == nil {
		return
	}
	m.containerFailures.Inc()
}

func (m *Metrics) DatabaseProbeFailed(engine string) {
	if m == nil {
		return
	}
	m.databaseFailures.WithLabelValues(engine).Inc()
}

func (m *Metrics) ObserveCommand(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FetchFailed() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
