// Package metrics holds the ingestion backend's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tap30/beacon-go/protocol"
)

// Metric label values for beacon status.
const (
	StatusProcessed = "processed"
	StatusRejected  = "rejected"
)

// KindCustom is the kind label of every event that is not a protocol kind.
// Custom event names are unbounded and never become label values.
const KindCustom = "custom"

// Metrics holds metrics related to beacon ingestion.
type Metrics struct {
	beacons  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	profiles *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		beacons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "beacons_total",
			Help:      "Total number of beacons received, by kind and status.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "beacon",
			Name:      "beacon_processing_seconds",
			Help:      "Time spent decoding and persisting a beacon.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		profiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "profile_upserts_total",
			Help:      "Total number of user profile upserts, by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.beacons, m.duration, m.profiles} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// KindLabel maps an event kind to a bounded label value.
func KindLabel(kind string) string {
	if protocol.IsReservedEvent(kind) {
		return kind
	}
	return KindCustom
}

// RecordBeacon records one beacon. A nil receiver records nothing.
func (m *Metrics) RecordBeacon(kind string, took time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusProcessed
	if err != nil {
		status = StatusRejected
	}
	label := KindLabel(kind)
	m.beacons.WithLabelValues(label, status).Inc()
	m.duration.WithLabelValues(label).Observe(took.Seconds())
}

// RecordUpsert records a profile upsert outcome.
func (m *Metrics) RecordUpsert(outcome string) {
	if m == nil {
		return
	}
	m.profiles.WithLabelValues(outcome).Inc()
}
