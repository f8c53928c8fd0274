// Package metrics exposes the Prometheus instrumentation for the gap locker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all gap-locker metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	TicksConsumed   prometheus.Counter
	GapsDetected    *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	PipelineRetries *prometheus.CounterVec
	GatewayRequests *prometheus.CounterVec
	JobsDropped     prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		TicksConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gaplocker_ticks_consumed_total",
			Help: "Total price ticks consumed from the feed",
		}),
		GapsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaplocker_gaps_detected_total",
			Help: "Total gap candidates detected per symbol",
		}, []string{"symbol"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaplocker_pipeline_runs_total",
			Help: "Lock pipeline runs by outcome",
		}, []string{"result"}),
		PipelineRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaplocker_pipeline_retries_total",
			Help: "Retry attempts per pipeline stage",
		}, []string{"stage"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaplocker_gateway_requests_total",
			Help: "Gateway calls by operation and result",
		}, []string{"op", "result"}),
		JobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gaplocker_jobs_dropped_total",
			Help: "Pipeline jobs dropped because the dispatch queue was full",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gaplocker_queue_depth",
			Help: "Current dispatch queue depth",
		}),
	}

	r.registry.MustRegister(
		r.TicksConsumed, r.GapsDetected, r.PipelineRuns, r.PipelineRetries,
		r.GatewayRequests, r.JobsDropped, r.QueueDepth,
	)
	return r
}

// Handler returns the scrape handler for the private registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
