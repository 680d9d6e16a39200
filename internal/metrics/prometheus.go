package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a dedicated Prometheus registry.
type PrometheusMetrics struct {
	logins          *prometheus.CounterVec
	tokenOps        *prometheus.CounterVec
	replays         prometheus.Counter
	rateLimited     *prometheus.CounterVec
	lockouts        prometheus.Counter
	resetRequests   *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	queueDepth      prometheus.Gauge
	auditWrites     *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a metrics instance under the given namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &PrometheusMetrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "operations_total",
			Help:      "Token manager operations by op and result",
		}, []string{"op", "result"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "replays_detected_total",
			Help:      "Refresh token replays detected",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Refused rate limit reservations by scope",
		}, []string{"scope"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Automatic account lockouts",
		}),
		resetRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "password_reset",
			Name:      "requests_total",
			Help:      "Password reset requests by internal outcome",
		}, []string{"outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events accepted by the bus by kind",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events lost to queue overflow",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Current event queue depth",
		}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Audit store writes by result",
		}, []string{"result"}),
		registry: registry,
	}

	registry.MustRegister(
		m.logins, m.tokenOps, m.replays, m.rateLimited, m.lockouts,
		m.resetRequests, m.eventsPublished, m.eventsDropped, m.queueDepth,
		m.auditWrites,
	)

	return m
}

// Handler exposes the registry for scraping.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) LoginAttempt(result string) {
	m.logins.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) TokenOperation(op, result string) {
	m.tokenOps.WithLabelValues(op, result).Inc()
}

func (m *PrometheusMetrics) ReplayDetected() {
	m.replays.Inc()
}

func (m *PrometheusMetrics) RateLimitRejected(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *PrometheusMetrics) AccountLocked() {
	m.lockouts.Inc()
}

func (m *PrometheusMetrics) ResetRequest(outcome string) {
	m.resetRequests.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) EventPublished(kind string) {
	m.eventsPublished.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) EventDropped() {
	m.eventsDropped.Inc()
}

func (m *PrometheusMetrics) EventQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PrometheusMetrics) AuditPersisted(result string) {
	m.auditWrites.WithLabelValues(result).Inc()
}
