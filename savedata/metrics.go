package savedata

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts passes and record copies.
type Metrics struct {
	PassesTotal  *prometheus.CounterVec
	CopiesTotal  *prometheus.CounterVec
	PassDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PassesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savesync_passes_total",
				Help: "Reconciliation passes by policy and outcome",
			},
			[]string{"policy", "outcome"}, // outcome: ok/partial/failed/busy
		),
		CopiesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "savesync_record_copies_total",
				Help: "Record copies by target store and outcome",
			},
			[]string{"target", "outcome"},
		),
		PassDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "savesync_pass_duration_seconds",
				Help:    "Duration of reconciliation passes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		),
	}
}

func (m *Metrics) observePass(policy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(policy, outcome).Inc()
	m.PassDuration.WithLabelValues(policy).Observe(d.Seconds())
}

func (m *Metrics) observeCopy(target string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.CopiesTotal.WithLabelValues(target, outcome).Inc()
}
