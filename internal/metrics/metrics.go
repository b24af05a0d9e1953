// Package metrics exposes prometheus collectors for the monitor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/authority-monitor/internal/model"
)

const namespace = "authmon"

// Job outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	bufferRecords   *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	runScenarios    *prometheus.GaugeVec
	runAuthorities  *prometheus.GaugeVec
	lastRunID       prometheus.Gauge
	alertsDelivered prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bufferRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "perfbuffer",
			Name:      "records_total",
			Help:      "Performance samples leaving the write buffer, by outcome.",
		}, []string{"outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job executions, by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Scheduled job wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"job"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "requests_total",
			Help:      "Authority lookups, by authority, action and outcome.",
		}, []string{"authority", "action", "outcome"}),
		runScenarios: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "scenarios",
			Help:      "Scenario counts of the latest run.",
		}, []string{"result"}),
		runAuthorities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "authorities",
			Help:      "Authority counts of the latest run.",
		}, []string{"result"}),
		lastRunID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "latest_id",
			Help:      "Id of the latest scenario run.",
		}),
		alertsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered to the webhook.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bufferRecords, m.jobRuns, m.jobDuration, m.requests,
		m.runScenarios, m.runAuthorities, m.lastRunID, m.alertsDelivered,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFlush implements perfbuffer.Observer.
func (m *Metrics) ObserveFlush(saved, dropped int) {
	m.bufferRecords.WithLabelValues("saved").Add(float64(saved))
	m.bufferRecords.WithLabelValues("dropped").Add(float64(dropped))
}

// ObserveJob records one job execution.
func (m *Metrics) ObserveJob(job, outcome string, d time.Duration) {
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// ObserveRequest counts one authority lookup.
func (m *Metrics) ObserveRequest(authority string, action model.Action, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.requests.WithLabelValues(authority, string(action), outcome).Inc()
}

// ObserveRun publishes the latest run summary.
func (m *Metrics) ObserveRun(s model.RunSummary) {
	m.lastRunID.Set(float64(s.RunID))
	m.runScenarios.WithLabelValues("passing").Set(float64(s.PassingScenarioCount))
	m.runScenarios.WithLabelValues("failing").Set(float64(s.FailingScenarioCount))
	m.runScenarios.WithLabelValues("total").Set(float64(s.TotalScenarioCount))
	m.runAuthorities.WithLabelValues("failing").Set(float64(s.FailingAuthorityCount))
	m.runAuthorities.WithLabelValues("total").Set(float64(s.AuthorityCount))
}

// ObserveAlerts counts delivered alerts.
func (m *Metrics) ObserveAlerts(sent int) {
	m.alertsDelivered.Add(float64(sent))
}
