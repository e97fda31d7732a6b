package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for outbox dispatching.
type Metrics struct {
	// Delivery outcomes by result ("sent", "retry", "dlq")
	Deliveries *prometheus.CounterVec

	// Per-entry delivery latency, claim to finalize
	DeliveryLatency prometheus.Histogram

	// Entries claimed per poll cycle
	BatchSize prometheus.Histogram

	// Leases reclaimed by the janitor
	ReclaimedLocks prometheus.Counter
}

// NewMetrics creates a Metrics instance with all dispatch metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audittrail_dispatch_deliveries_total",
			Help: "Total delivery outcomes by result",
		}, []string{"result"}), // result: "sent", "retry", "dlq"

		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audittrail_dispatch_delivery_duration_seconds",
			Help:    "Duration of a single entry delivery, claim to finalize",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audittrail_dispatch_batch_size",
			Help:    "Number of outbox entries claimed per poll cycle",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		ReclaimedLocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_dispatch_reclaimed_locks_total",
			Help: "Total expired leases returned to the pending pool",
		}),
	}
}

// IncrementDelivery records a delivery outcome.
func (m *Metrics) IncrementDelivery(result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(result).Inc()
	}
}

// ObserveDeliveryLatency records how long a single entry took to deliver.
func (m *Metrics) ObserveDeliveryLatency(d time.Duration) {
	if m != nil {
		m.DeliveryLatency.Observe(d.Seconds())
	}
}

// ObserveBatchSize records the size of a claimed batch.
func (m *Metrics) ObserveBatchSize(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

// AddReclaimedLocks records leases returned to pending by the janitor.
func (m *Metrics) AddReclaimedLocks(n int) {
	if m != nil && n > 0 {
		m.ReclaimedLocks.Add(float64(n))
	}
}
