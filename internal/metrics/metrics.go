// Package metrics exposes Prometheus counters for the sale flows and the HTTP
// surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/EngLamisKhaled/Flashsale/internal/app"
	"github.com/EngLamisKhaled/Flashsale/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flashsale"

type Metrics struct {
	holdsCreated   prometheus.Counter
	holdsRejected  *prometheus.CounterVec
	ordersCreated  prometheus.Counter
	payments       *prometheus.CounterVec
	holdsExpired   prometheus.Counter
	retries        *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		holdsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "holds_created_total",
			Help: "Holds successfully placed.",
		}),
		holdsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "holds_rejected_total",
			Help: "Hold requests refused, by reason.",
		}, []string{"reason"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_created_total",
			Help: "Orders created from holds.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_notifications_total",
			Help: "Payment notifications handled, by outcome, resulting order status and replay.",
		}, []string{"outcome", "order_status", "replayed"}),
		holdsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "holds_expired_total",
			Help: "Holds moved to expired by the sweep.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_retries_total",
			Help: "Transactions re-run after a transient store conflict.",
		}, []string{"op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests, by route and status code.",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_ms",
			Help:    "HTTP request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.holdsCreated, m.holdsRejected, m.ordersCreated, m.payments,
		m.holdsExpired, m.retries, m.requests, m.requestLatency,
	)
	return m
}

func (m *Metrics) HoldCreated() { m.holdsCreated.Inc() }

func (m *Metrics) HoldRejected(reason string) { m.holdsRejected.WithLabelValues(reason).Inc() }

func (m *Metrics) OrderCreated() { m.ordersCreated.Inc() }

func (m *Metrics) PaymentSettled(outcome domain.PaymentOutcome, status domain.OrderStatus, replayed bool) {
	m.payments.WithLabelValues(string(outcome), string(status), strconv.FormatBool(replayed)).Inc()
}

func (m *Metrics) HoldsExpired(n int) { m.holdsExpired.Add(float64(n)) }

func (m *Metrics) Retried(op string) { m.retries.WithLabelValues(op).Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labeled by the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestLatency.WithLabelValues(r.Method, route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

var _ app.Metrics = (*Metrics)(nil)
