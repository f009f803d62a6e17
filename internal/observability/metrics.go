package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Credential resolution sources
const (
	SourceStore       = "store"
	SourceEnvironment = "environment"
	SourceNone        = "none"
	SourceError       = "error"
)

// Metrics collects audit engine metrics. A nil *Metrics is a valid no-op.
type Metrics struct {
	AuditRequests        *prometheus.CounterVec
	ControlResults       *prometheus.CounterVec
	ControlDuration      *prometheus.HistogramVec
	CredentialResolution *prometheus.CounterVec
}

// NewMetrics registers the audit metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuditRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditron_audit_requests_total",
			Help: "Total audit requests by target provider",
		}, []string{"provider"}),

		ControlResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditron_control_results_total",
			Help: "Control results by provider and status",
		}, []string{"provider", "status"}),

		ControlDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditron_control_duration_seconds",
			Help:    "Duration of individual control checks",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),

		CredentialResolution: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditron_credential_resolution_total",
			Help: "Credential resolutions by provider and source",
		}, []string{"provider", "source"}), // source: store, environment, none, error
	}
}

// IncAuditRequest counts one audit request
func (m *Metrics) IncAuditRequest(provider string) {
	if m != nil {
		m.AuditRequests.WithLabelValues(provider).Inc()
	}
}

// ObserveControl records a finished control check
func (m *Metrics) ObserveControl(provider, status string, d time.Duration) {
	if m != nil {
		m.ControlResults.WithLabelValues(provider, status).Inc()
		m.ControlDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// IncCredentialResolution records where a credential bundle came from
func (m *Metrics) IncCredentialResolution(provider, source string) {
	if m != nil {
		m.CredentialResolution.WithLabelValues(provider, source).Inc()
	}
}
