package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "otp_api"

// Metrics holds all Prometheus metrics for the API.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPPanics   *prometheus.CounterVec

	// Ledger
	LedgerOps *prometheus.CounterVec

	// Provider gateway
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Rentals
	RentalTransitions *prometheus.CounterVec
	Compensations     *prometheus.CounterVec

	// Supervisor
	SweepRuns    *prometheus.CounterVec
	SweepExpired prometheus.Counter

	// Payments
	PaymentCallbacks *prometheus.CounterVec
}

// New creates the metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		HTTPPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "Handler panics recovered by route",
		}, []string{"route"}),

		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by kind and outcome",
		}, []string{"op", "outcome"}),

		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Number provider calls by operation and outcome",
		}, []string{"op", "outcome"}),

		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Number provider call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),

		RentalTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rental_transitions_total",
			Help:      "Rental state transitions by target status",
		}, []string{"status"}),

		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rental_compensations_total",
			Help:      "Compensating actions taken after partial rental failures",
		}, []string{"action"}),

		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_sweeps_total",
			Help:      "Timeout supervisor sweeps by outcome",
		}, []string{"outcome"}),

		SweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_expired_rentals_total",
			Help:      "Rentals expired by the timeout supervisor",
		}),
		PaymentCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callbacks_total",
			Help:      "Payment gateway callbacks by gateway and result",
		}, []string{"gateway", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPPanics,
		m.LedgerOps,
		m.ProviderCalls,
		m.ProviderDuration,
		m.RentalTransitions,
		m.Compensations,
		m.SweepRuns,
		m.SweepExpired,
		m.PaymentCallbacks,
	)

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Panic counts a recovered handler panic.
func (m *Metrics) Panic(route string) {
	if m == nil {
		return
	}
	m.HTTPPanics.WithLabelValues(route).Inc()
}

// LedgerOp records a ledger operation outcome.
func (m *Metrics) LedgerOp(op string, err error) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, outcome(err)).Inc()
}

// ProviderCall records a provider call and its latency.
func (m *Metrics) ProviderCall(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(op, outcome(err)).Inc()
	m.ProviderDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RentalTransition counts a rental entering status.
func (m *Metrics) RentalTransition(status string) {
	if m == nil {
		return
	}
	m.RentalTransitions.WithLabelValues(status).Inc()
}

// Compensation counts a compensating action (provider_cancel, refund).
func (m *Metrics) Compensation(action string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(action).Inc()
}

// Sweep records one supervisor tick.
func (m *Metrics) Sweep(expired int, err error) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome(err)).Inc()
	m.SweepExpired.Add(float64(expired))
}

// PaymentCallback counts a settled gateway callback. result is one of
// completed, failed, credited, duplicate, ignored or error.
func (m *Metrics) PaymentCallback(gateway, result string) {
	if m == nil {
		return
	}
	m.PaymentCallbacks.WithLabelValues(gateway, result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
