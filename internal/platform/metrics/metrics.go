package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-level metrics shared across modules.
type Metrics struct {
	EventsStaged *prometheus.CounterVec
}

// New creates and registers the shared metrics.
func New() *Metrics {
	return &Metrics{
		EventsStaged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audittrail_events_staged_total",
			Help: "Total audit events staged on the outbox by event kind",
		}, []string{"kind"}), // kind: "created", "updated", "deleted"
	}
}

// IncrementStaged records one staged event.
func (m *Metrics) IncrementStaged(kind string) {
	if m != nil {
		m.EventsStaged.WithLabelValues(kind).Inc()
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
