package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestReservationMetrics_Counters(t *testing.T) {
	m := NewReservationMetrics(prometheus.NewRegistry())

	m.ObserveOperation("reserve", "ok")
	m.ObserveOperation("reserve", "ok")
	m.ObserveOperation("reserve", "insufficient_stock")
	m.AddExpired(3)
	m.AddExpired(0)
	m.ObserveSweep(50 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("reserve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("reserve", "insufficient_stock")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.expired))
}

func TestReservationMetrics_NilSafe(t *testing.T) {
	var m *ReservationMetrics

	assert.NotPanics(t, func() {
		m.ObserveOperation("confirm", "ok")
		m.AddExpired(1)
		m.ObserveSweep(time.Second)
	})
}
