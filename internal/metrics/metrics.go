// Package metrics exposes enrichment counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/entity-enrich/internal/model"
)

const namespace = "entity_enrich"

// Metrics holds the collectors for one process. A nil *Metrics records nothing.
type Metrics struct {
	lookups      *prometheus.CounterVec
	fallbackHits prometheus.Counter
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	completeness *prometheus.GaugeVec
	batches      *prometheus.CounterVec
	progress     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "External lookups by stage and outcome.",
		}, []string{"stage", "outcome"}),
		fallbackHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firmographics_fallback_hits_total",
			Help:      "Firmographics records answered by the search fallback.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		completeness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attribute_completeness_percent",
			Help:      "Completeness of each tracked attribute after the last run.",
		}, []string{"attribute"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Settled lookup batches by stage.",
		}, []string{"stage"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_progress_ratio",
			Help:      "Fraction of batches settled in the current or last stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.lookups, m.fallbackHits, m.runs, m.runDuration, m.completeness, m.batches, m.progress)
	return m
}

// ObserveLookup counts one lookup outcome.
func (m *Metrics) ObserveLookup(stage string, outcome model.Outcome) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(stage, string(outcome)).Inc()
}

// AddFallbackHits adds n fallback answers.
func (m *Metrics) AddFallbackHits(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.fallbackHits.Add(float64(n))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status model.RunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(d.Seconds())
}

// ObserveReport publishes the latest completeness figures.
func (m *Metrics) ObserveReport(r *model.CompletenessReport) {
	if m == nil || r == nil {
		return
	}
	for _, row := range r.Rows {
		m.completeness.WithLabelValues(row.Attribute).Set(row.Completeness)
	}
}

// ObserveBatch records a settled batch of stage.
func (m *Metrics) ObserveBatch(stage string, p model.Progress) {
	if m == nil || p.Total <= 0 {
		return
	}
	m.batches.WithLabelValues(stage).Inc()
	m.progress.WithLabelValues(stage).Set(float64(p.Batch) / float64(p.Total))
}
