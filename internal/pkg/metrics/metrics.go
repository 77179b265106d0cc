package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics is safe to use through a nil pointer; every method is then a no-op.
type ReservationMetrics struct {
	operations    *prometheus.CounterVec
	expired       prometheus.Counter
	sweepDuration prometheus.Histogram
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	m := &ReservationMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "product",
			Subsystem: "reservation",
			Name:      "operations_total",
			Help:      "Reservation operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "product",
			Subsystem: "reservation",
			Name:      "expired_total",
			Help:      "Reservations moved to EXPIRED by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "product",
			Subsystem: "reservation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeper passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.operations, m.expired, m.sweepDuration)
	return m
}

func (m *ReservationMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *ReservationMetrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

func (m *ReservationMetrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}
