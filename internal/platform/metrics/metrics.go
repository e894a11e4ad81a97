// Package metrics owns the service's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	provisionTotal      *prometheus.CounterVec
	reconcileTotal      *prometheus.CounterVec
}

// New creates and registers the collectors on reg. Collectors already registered on reg
// (a second New against the same registry) are reused.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		provisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_provision_total",
			Help: "Runner provisioning attempts, by result.",
		}, []string{"result"}),
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_reconcile_identities_total",
			Help: "Pending identities handled by the reconciliation sweep, by action.",
		}, []string{"action"}),
	}

	var err error
	m.httpRequestsTotal, err = register(reg, m.httpRequestsTotal)
	if err != nil {
		return nil, err
	}
	m.httpRequestDuration, err = register(reg, m.httpRequestDuration)
	if err != nil {
		return nil, err
	}
	m.provisionTotal, err = register(reg, m.provisionTotal)
	if err != nil {
		return nil, err
	}
	m.reconcileTotal, err = register(reg, m.reconcileTotal)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler serves the exposition format for the registry passed to New.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveProvision counts one provisioning attempt. result is "ok" or an error code.
func (m *Metrics) ObserveProvision(result string) {
	if m == nil {
		return
	}
	m.provisionTotal.WithLabelValues(result).Inc()
}

// ObserveReconcile adds n to the counter for action.
func (m *Metrics) ObserveReconcile(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconcileTotal.WithLabelValues(action).Add(float64(n))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
