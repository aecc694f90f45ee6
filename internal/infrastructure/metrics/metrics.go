package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the ledger core.
type Metrics struct {
	// Posting metrics
	GroupsPosted prometheus.Counter
	LegsPosted   prometheus.Counter
	PostRejects  *prometheus.CounterVec
	LegsPerGroup prometheus.Histogram

	// Lot metrics
	LotsOpened  *prometheus.CounterVec
	LotsClosed  *prometheus.CounterVec
	RealizedPnL *prometheus.CounterVec

	// Mapping metrics
	MappingCurrentVersion prometheus.Gauge

	// Reconciliation metrics
	ReconEntries *prometheus.CounterVec

	// Sync metrics
	SyncRuns     *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	// Database metrics
	DBRetries *prometheus.CounterVec
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates and registers all metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		GroupsPosted: f.NewCounter(prometheus.CounterOpts{
			Name: "botledger_groups_posted_total",
			Help: "Total number of balanced leg groups posted",
		}),
		LegsPosted: f.NewCounter(prometheus.CounterOpts{
			Name: "botledger_legs_posted_total",
			Help: "Total number of legs posted",
		}),
		PostRejects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_post_rejects_total",
				Help: "Rejected posts by reason",
			},
			[]string{"reason"},
		),
		LegsPerGroup: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "botledger_legs_per_group",
			Help:    "Number of legs in posted groups",
			Buckets: []float64{2, 3, 4, 6, 8, 12, 20},
		}),

		LotsOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_lots_opened_total",
				Help: "Lots opened by side",
			},
			[]string{"side"},
		),
		LotsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_lot_closes_total",
				Help: "Lot closes by side",
			},
			[]string{"side"},
		),
		RealizedPnL: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_realized_pnl_abs_total",
				Help: "Absolute realized P&L booked, split by sign",
			},
			[]string{"sign"},
		),

		MappingCurrentVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "botledger_mapping_version",
			Help: "Latest mapping table version written or loaded",
		}),

		ReconEntries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_reconciliation_entries_total",
				Help: "Reconciliation log entries by status",
			},
			[]string{"status"},
		),

		SyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_sync_runs_total",
				Help: "Sync runs by final status",
			},
			[]string{"status"},
		),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "botledger_sync_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
		}),

		DBRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botledger_db_retries_total",
				Help: "Read retries on transient store errors",
			},
			[]string{"code"},
		),
	}
}

func (m *Metrics) GroupPosted(legs int) {
	m.GroupsPosted.Inc()
	m.LegsPosted.Add(float64(legs))
	m.LegsPerGroup.Observe(float64(legs))
}

func (m *Metrics) PostRejected(reason string) {
	m.PostRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) LotOpened(side string) {
	m.LotsOpened.WithLabelValues(side).Inc()
}

func (m *Metrics) LotClosed(side string, realized float64) {
	m.LotsClosed.WithLabelValues(side).Inc()
	switch {
	case realized > 0:
		m.RealizedPnL.WithLabelValues("gain").Add(realized)
	case realized < 0:
		m.RealizedPnL.WithLabelValues("loss").Add(-realized)
	}
}

func (m *Metrics) MappingVersion(version int64) {
	m.MappingCurrentVersion.Set(float64(version))
}

func (m *Metrics) ReconEntry(status string) {
	m.ReconEntries.WithLabelValues(status).Inc()
}

func (m *Metrics) SyncFinished(status string, d time.Duration) {
	m.SyncRuns.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(d.Seconds())
}

// Retried counts one read retry for a SQLSTATE code.
func (m *Metrics) Retried(code string) {
	m.DBRetries.WithLabelValues(code).Inc()
}
