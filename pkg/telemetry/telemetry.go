// Package telemetry exposes Prometheus metrics for training runs.
//
// A Recorder owns its registry so several runs, or tests, never collide on
// the global default registry.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records trial and run metrics.
type Recorder struct {
	registry *prometheus.Registry

	trialsTotal   *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	bestScore     *prometheus.GaugeVec
	stage         *prometheus.GaugeVec
	runsTotal     *prometheus.CounterVec
}

// NewRecorder creates a Recorder with a fresh registry. Go runtime and
// process collectors are registered alongside the otter metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	r := &Recorder{registry: reg}
	r.trialsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_trials_total",
			Help: "Completed trials by model family and final state",
		},
		[]string{"family", "state"},
	)
	r.trialDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otter_trial_duration_seconds",
			Help:    "Cross-validation wall time per trial in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"family"},
	)
	r.bestScore = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "otter_best_score",
			Help: "Best cross-validated mean score so far",
		},
		[]string{"metric"},
	)
	r.stage = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "otter_run_stage",
			Help: "1 for the stage the current run is in, 0 otherwise",
		},
		[]string{"stage"},
	)
	r.runsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_runs_total",
			Help: "Finished runs by outcome",
		},
		[]string{"outcome"},
	)
	return r
}

// TrialCompleted records one persisted trial.
func (r *Recorder) TrialCompleted(family, state string, d time.Duration) {
	r.trialsTotal.WithLabelValues(family, state).Inc()
	r.trialDuration.WithLabelValues(family).Observe(d.Seconds())
}

// BestScore sets the best score gauge.
func (r *Recorder) BestScore(metric string, score float64) {
	r.bestScore.WithLabelValues(metric).Set(score)
}

// Stage marks stage as current and clears prev.
func (r *Recorder) Stage(prev, stage string) {
	if prev != "" {
		r.stage.WithLabelValues(prev).Set(0)
	}
	r.stage.WithLabelValues(stage).Set(1)
}

// RunFinished counts a run outcome ("done", "no_valid_model", ...).
func (r *Recorder) RunFinished(outcome string) {
	r.runsTotal.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
