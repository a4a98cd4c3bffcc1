// Package metrics holds the service's prometheus collectors. A nil *Metrics
// records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "seatline"

type Metrics struct {
	Reservations   *prometheus.CounterVec
	ClaimDuration  prometheus.Histogram
	CodeCollisions prometheus.Counter
	Transitions    *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by result",
		}, []string{"result"}),
		ClaimDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "Time spent claiming legs, locks and transaction included",
			Buckets:   prometheus.DefBuckets,
		}),
		CodeCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Reservation code candidates rejected as already taken",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Booking status changes",
		}, []string{"from", "to", "kind"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveReservation(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(result).Inc()
	m.ClaimDuration.Observe(took.Seconds())
}

func (m *Metrics) CodeCollision() {
	if m == nil {
		return
	}
	m.CodeCollisions.Inc()
}

// Transition counts a status change; kind is "lifecycle" or "override".
func (m *Metrics) Transition(from, to, kind string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, kind).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
