package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	authorizations *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
	syncRecords    *prometheus.CounterVec
	syncDuration   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectd",
			Name:      "authorizations_total",
			Help:      "Authorization redirects started, by provider and result",
		}, []string{"provider", "result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectd",
			Name:      "callbacks_total",
			Help:      "OAuth callbacks processed, by provider and final state or failure kind",
		}, []string{"provider", "result"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectd",
			Name:      "sync_records_total",
			Help:      "Connection records visited by sync passes, by provider and outcome",
		}, []string{"provider", "outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "connectd",
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of one sync pass over a user's connections",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	for _, c := range []prometheus.Collector{m.authorizations, m.callbacks, m.syncRecords, m.syncDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) authorization(p Provider, result string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(string(p), result).Inc()
}

func (m *Metrics) callback(p Provider, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(string(p), result).Inc()
}

func (m *Metrics) syncRecord(p Provider, outcome SyncOutcome) {
	if m == nil {
		return
	}
	m.syncRecords.WithLabelValues(string(p), string(outcome)).Inc()
}

func (m *Metrics) syncPass(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
}
