package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReservation("ok", 10*time.Millisecond)
	m.ObserveReservation("ok", 20*time.Millisecond)
	m.ObserveReservation("conflict", time.Millisecond)
	m.CodeCollision()
	m.Transition("pending", "confirmed", "lifecycle")
	m.ObserveHTTP("POST", "/bookings", 201, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reservations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CodeCollisions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("pending", "confirmed", "lifecycle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/bookings", "201")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ClaimDuration))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReservation("ok", time.Second)
		m.CodeCollision()
		m.Transition("a", "b", "c")
		m.ObserveHTTP("GET", "/", 200, time.Second)
	})
}
