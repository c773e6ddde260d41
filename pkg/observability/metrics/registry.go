// Package metrics provides Prometheus metrics for dlqmanager.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the Prometheus registry and the collectors dlqmanager exposes:
// HTTP request metrics, remediation action metrics and Go runtime metrics.
type Registry struct {
	registry    *prometheus.Registry
	http        *HTTPMetrics
	remediation *RemediationMetrics
}

// NewRegistry creates a registry with every default collector registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	httpMetrics := newHTTPMetrics()
	remediationMetrics := newRemediationMetrics()

	reg.MustRegister(httpMetrics.collectors()...)
	reg.MustRegister(remediationMetrics.collectors()...)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		registry:    reg,
		http:        httpMetrics,
		remediation: remediationMetrics,
	}
}

// HTTP returns the HTTP request metrics.
func (r *Registry) HTTP() *HTTPMetrics {
	return r.http
}

// Remediation returns the action metrics. It implements remediation.Observer.
func (r *Registry) Remediation() *RemediationMetrics {
	return r.remediation
}

// MustRegister registers additional collectors and panics on error.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// Handler exposes the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
