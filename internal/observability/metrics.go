package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the pharmacy pipeline.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	dispensedUnits     *prometheus.CounterVec
	transfersCompleted *prometheus.CounterVec
	stockShortages     *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmacore_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	dispensed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_dispensed_units_total",
		Help: "Units dispensed per dispensary.",
	}, []string{"dispensary"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_transfers_completed_total",
		Help: "Completed dispensary transfers per dispensary.",
	}, []string{"dispensary"})
	shortages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_stock_shortages_total",
		Help: "Rejected operations due to insufficient stock, per tier.",
	}, []string{"tier"})
	registry.MustRegister(requests, duration, dispensed, transfers, shortages)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		dispensedUnits:     dispensed,
		transfersCompleted: transfers,
		stockShortages:     shortages,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDispense increments the dispensed units counter.
func (m *Metrics) ObserveDispense(dispensary string, units int64) {
	if m == nil {
		return
	}
	m.dispensedUnits.WithLabelValues(dispensary).Add(float64(units))
}

// ObserveTransferCompleted increments the completed transfer counter.
func (m *Metrics) ObserveTransferCompleted(dispensary string) {
	if m == nil {
		return
	}
	m.transfersCompleted.WithLabelValues(dispensary).Inc()
}

// ObserveShortage increments the shortage counter for an inventory tier.
func (m *Metrics) ObserveShortage(tier string) {
	if m == nil {
		return
	}
	m.stockShortages.WithLabelValues(tier).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
