// Package metrics exposes Prometheus instrumentation for the ownership store,
// group detection, and the reporting API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ownership insert outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomeIgnored  = "ignored"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EntityUpserts     *prometheus.CounterVec
	OwnershipInserts  *prometheus.CounterVec
	GroupsDetected    prometheus.Gauge
	DetectionDuration prometheus.Histogram
	HTTPRequests      *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EntityUpserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingroups_entity_upserts_total",
			Help: "Entities written to the store by type",
		}, []string{"type"}),

		OwnershipInserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingroups_ownership_inserts_total",
			Help: "Ownership edge writes by outcome",
		}, []string{"outcome"}), // outcome: "inserted", "ignored"

		GroupsDetected: f.NewGauge(prometheus.GaugeOpts{
			Name: "fingroups_groups_detected",
			Help: "Number of company groups found by the last detection run",
		}),

		DetectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fingroups_group_detection_duration_seconds",
			Help:    "Duration of a full group detection run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingroups_http_requests_total",
			Help: "Reporting API requests by route pattern and status code",
		}, []string{"route", "status"}),
	}
}

// IncEntityUpsert records an entity write.
func (m *Metrics) IncEntityUpsert(typ string) {
	if m != nil {
		m.EntityUpserts.WithLabelValues(typ).Inc()
	}
}

// IncOwnership records an ownership write; inserted is false when the edge
// already existed.
func (m *Metrics) IncOwnership(inserted bool) {
	if m == nil {
		return
	}
	outcome := OutcomeIgnored
	if inserted {
		outcome = OutcomeInserted
	}
	m.OwnershipInserts.WithLabelValues(outcome).Inc()
}

// ObserveDetection records the result of one detection run.
func (m *Metrics) ObserveDetection(groups int, d time.Duration) {
	if m != nil {
		m.GroupsDetected.Set(float64(groups))
		m.DetectionDuration.Observe(d.Seconds())
	}
}

// IncHTTPRequest records a served request.
func (m *Metrics) IncHTTPRequest(route string, status int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}
