package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "api_gateway"

// Metrics holds the gateway collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// ValidationsTotal counts pipeline outcomes by reason code
	ValidationsTotal *prometheus.CounterVec

	// ValidationDuration observes the elapsed time of the whole pipeline
	ValidationDuration prometheus.Histogram

	// GateDuration observes each gate by result (pass, reject, fault)
	GateDuration *prometheus.HistogramVec

	// AuditEntriesTotal counts audit writes by result
	AuditEntriesTotal *prometheus.CounterVec

	// UsageRecordedTotal counts recordCall results
	UsageRecordedTotal *prometheus.CounterVec

	// HTTPRequestsTotal counts served requests
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes request handling time
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "The total number of credential validations by reason code",
		}, []string{"reason"}),
		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "The validation pipeline duration in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		GateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_duration_seconds",
			Help:      "The duration of a single gate in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gate", "result"}),
		AuditEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "The total number of audit entries by write result",
		}, []string{"result"}),
		UsageRecordedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_recorded_total",
			Help:      "The total number of recorded calls by result",
		}, []string{"result"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "The HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveValidation(reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(reason).Inc()
	m.ValidationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveGate(gate, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GateDuration.WithLabelValues(gate, result).Observe(elapsed.Seconds())
}

func (m *Metrics) IncAudit(result string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddAudit(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) IncUsage(result string) {
	if m == nil {
		return
	}
	m.UsageRecordedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
