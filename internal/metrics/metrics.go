// Package metrics records Prometheus metrics for conversations, gateway calls and dispatches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Recorder holds scoper's collectors on a private registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	transitions     *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	active          prometheus.Gauge
	dispatches      *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoper_transitions_total",
				Help: "Conversation state transitions by source and target state",
			},
			[]string{"from", "to"},
		),
		gatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoper_gateway_requests_total",
				Help: "Language model requests by purpose and status",
			},
			[]string{"purpose", "status"},
		),
		gatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoper_gateway_duration_seconds",
				Help:    "Duration of language model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"purpose"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scoper_conversations_active",
				Help: "Number of conversations currently held in memory",
			},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoper_dispatch_total",
				Help: "Execute attempts through the approval gate by outcome",
			},
			[]string{"status"},
		),
	}

	r.registry.MustRegister(r.transitions, r.gatewayRequests, r.gatewayDuration, r.active, r.dispatches)
	return r
}

// ObserveTransition counts one state change. from is "none" for a new conversation.
func (r *Recorder) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

// ObserveGateway records a completed language model call.
func (r *Recorder) ObserveGateway(purpose string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	r.gatewayRequests.WithLabelValues(purpose, status).Inc()
	r.gatewayDuration.WithLabelValues(purpose).Observe(duration.Seconds())
}

// SetActive sets the in-memory conversation gauge.
func (r *Recorder) SetActive(n int) {
	if r == nil {
		return
	}
	r.active.Set(float64(n))
}

// ObserveDispatch counts one Execute outcome (success, rejected or error).
func (r *Recorder) ObserveDispatch(status string) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry (for tests and custom exporters).
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
