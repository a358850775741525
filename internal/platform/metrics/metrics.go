// Package metrics exposes Prometheus collectors for the products API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orderable/products-api/internal/platform/docstore"
)

const namespace = "products_api"

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeConflict    = "conflict"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics groups the service collectors. Create with New and register once.
type Metrics struct {
	StoreOperations       *prometheus.CounterVec
	StoreDuration         *prometheus.HistogramVec
	IndexingNotifications *prometheus.CounterVec
	IndexingInFlight      prometheus.Gauge
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
}

// New builds unregistered collectors.
func New() *Metrics {
	return &Metrics{
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "store_operations_total", Help: "Entity store operations by kind, operation and outcome."},
			[]string{"kind", "operation", "outcome"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "store_operation_duration_seconds", Help: "Entity store operation latency.", Buckets: prometheus.DefBuckets},
			[]string{"kind", "operation"},
		),
		IndexingNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "indexing_notifications_total", Help: "Indexing notifications by sender and outcome."},
			[]string{"sender", "outcome"},
		),
		IndexingInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "indexing_notifications_in_flight", Help: "Indexing notifications currently being sent."},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, route and status."},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets},
			[]string{"method", "route"},
		),
	}
}

// RegisterCollectors registers every collector with reg.
func (m *Metrics) RegisterCollectors(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.StoreOperations,
		m.StoreDuration,
		m.IndexingNotifications,
		m.IndexingInFlight,
		m.HTTPRequests,
		m.HTTPDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveOperation implements docstore.Observer.
func (m *Metrics) ObserveOperation(kind, op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(kind, op, storeOutcome(err)).Inc()
	m.StoreDuration.WithLabelValues(kind, op).Observe(elapsed.Seconds())
}

// NotificationStarted marks a notification as in flight.
func (m *Metrics) NotificationStarted() {
	if m == nil {
		return
	}
	m.IndexingInFlight.Inc()
}

// NotificationFinished records the result of a notification started earlier.
func (m *Metrics) NotificationFinished(sender string, err error) {
	if m == nil {
		return
	}
	m.IndexingInFlight.Dec()
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.IndexingNotifications.WithLabelValues(sender, outcome).Inc()
}

// Middleware counts requests using the matched chi route pattern as the route label.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func storeOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case docstore.IsNotFound(err):
		return OutcomeNotFound
	case docstore.IsConflict(err):
		return OutcomeConflict
	case docstore.IsUnavailable(err):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}
