package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the history module. Tracks applied
// change batches, failures by error code, and the latency of the apply and
// as-of paths.
type Metrics struct {
	BatchesApplied    prometheus.Counter
	ChangesApplied    *prometheus.CounterVec
	BatchesRejected   *prometheus.CounterVec
	LineageEdges      prometheus.Counter
	ApplyDuration     prometheus.Histogram
	AsOfDuration      prometheus.Histogram
	StatesTotal       prometheus.Gauge
	DistrictsInLatest prometheus.Gauge
}

// New creates a Metrics instance with all history module metrics registered.
func New() *Metrics {
	return &Metrics{
		BatchesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "borderhist_batches_applied_total",
			Help: "Total number of change batches applied successfully",
		}),
		ChangesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "borderhist_changes_applied_total",
			Help: "Total number of changes applied, by change type",
		}, []string{"change_type"}),
		BatchesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "borderhist_batches_rejected_total",
			Help: "Total number of rejected change batches, by error code",
		}, []string{"code"}),
		LineageEdges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "borderhist_lineage_edges_total",
			Help: "Total number of lineage edges recorded",
		}),
		ApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "borderhist_apply_batch_duration_seconds",
			Help:    "Duration of ApplyBatch operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		AsOfDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "borderhist_as_of_duration_seconds",
			Help:    "Duration of AsOf snapshot lookups",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		StatesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "borderhist_states_total",
			Help: "Number of snapshots currently held by the history",
		}),
		DistrictsInLatest: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "borderhist_latest_state_districts",
			Help: "District count of the most recent snapshot",
		}),
	}
}

// IncrementBatchApplied records a successfully applied batch.
func (m *Metrics) IncrementBatchApplied() {
	m.BatchesApplied.Inc()
}

// IncrementChangeApplied records one applied change of the given type.
func (m *Metrics) IncrementChangeApplied(changeType string) {
	m.ChangesApplied.WithLabelValues(changeType).Inc()
}

// IncrementBatchRejected records a rejected batch with its error code.
func (m *Metrics) IncrementBatchRejected(code string) {
	m.BatchesRejected.WithLabelValues(code).Inc()
}

// AddLineageEdges records newly committed lineage edges.
func (m *Metrics) AddLineageEdges(n int) {
	m.LineageEdges.Add(float64(n))
}

// ObserveApply records the duration of an ApplyBatch operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveApply(start time.Time) {
	m.ApplyDuration.Observe(time.Since(start).Seconds())
}

// ObserveAsOf records the duration of an AsOf lookup.
func (m *Metrics) ObserveAsOf(start time.Time) {
	m.AsOfDuration.Observe(time.Since(start).Seconds())
}

// SetHistorySize updates the snapshot and district gauges.
func (m *Metrics) SetHistorySize(states, latestDistricts int) {
	m.StatesTotal.Set(float64(states))
	m.DistrictsInLatest.Set(float64(latestDistricts))
}
