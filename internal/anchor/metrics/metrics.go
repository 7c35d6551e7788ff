// Package metrics provides observability for the anchoring engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks anchoring submissions and the corrective actions the engine
// takes against the ledger.
type Metrics struct {
	Submissions     *prometheus.CounterVec
	Confirmations   prometheus.Counter
	Expirations     prometheus.Counter
	Corrections     prometheus.Counter
	IntegrityAlarms prometheus.Counter
	SweepDuration   prometheus.Histogram
}

// New creates a Metrics instance with all anchoring metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbis_anchor_submissions_total",
			Help: "Total anchoring submissions by outcome (accepted, rejected, unavailable)",
		}, []string{"outcome"}),
		Confirmations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbis_anchor_confirmations_total",
			Help: "Total identities confirmed against the ledger",
		}),
		Expirations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbis_anchor_expirations_total",
			Help: "Total submissions expired after the pending window elapsed",
		}),
		Corrections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbis_anchor_corrections_total",
			Help: "Total local states corrected to match the ledger during reconciliation",
		}),
		IntegrityAlarms: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbis_anchor_integrity_alarms_total",
			Help: "Total data integrity alarms raised (confirmed locally, absent on ledger)",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbis_anchor_sweep_duration_seconds",
			Help:    "Duration of expiry sweeper passes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// ObserveSweep records the duration of one sweeper pass. Call with
// time.Now() at the start of the pass.
func (m *Metrics) ObserveSweep(start time.Time) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
}
