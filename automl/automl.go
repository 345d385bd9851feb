// Package automl drives a training run from a dataset to a trained model.
//
// Run moves through the stages Initializing, FeatureEngineering, Searching,
// Finalizing and then Done or Aborted. The feature set is built once; the
// search appends every completed trial to the leaderboard, which can be
// backed by a persistent store so an interrupted run resumes without
// re-scoring finished trials.
package automl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/candidates"
	"github.com/otter-ml/otter/core/dataset"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/crossval"
	"github.com/otter-ml/otter/features"
	"github.com/otter-ml/otter/leaderboard"
	"github.com/otter-ml/otter/metrics"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
	"github.com/otter-ml/otter/report"
	"github.com/otter-ml/otter/search"
)

// Recorder receives run instrumentation. *telemetry.Recorder satisfies it.
type Recorder interface {
	TrialCompleted(family, state string, d time.Duration)
	BestScore(metric string, score float64)
	Stage(prev, stage string)
	RunFinished(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) TrialCompleted(string, string, time.Duration) {}
func (nopRecorder) BestScore(string, float64)                    {}
func (nopRecorder) Stage(string, string)                         {}
func (nopRecorder) RunFinished(string)                           {}

// Orchestrator runs training jobs with a fixed configuration.
type Orchestrator struct {
	cfg       Config
	registry  *candidates.Registry
	store     leaderboard.Store
	artifacts artifact.Store
	progress  func(Progress)
	recorder  Recorder
	log       log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRegistry replaces the default candidate families.
func WithRegistry(r *candidates.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithStore persists the leaderboard and search checkpoint in s. The caller
// keeps ownership and closes it. Without a store each run starts from an
// empty in-memory leaderboard.
func WithStore(s leaderboard.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithArtifactStore saves the winning artifact at the end of a run.
func WithArtifactStore(s artifact.Store) Option {
	return func(o *Orchestrator) { o.artifacts = s }
}

// WithProgress registers a callback. It is invoked from the goroutine
// calling Run, on every stage change and after every recorded trial.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithRecorder sets the instrumentation sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New returns an Orchestrator. cfg is validated by Run.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: candidates.Default(),
		recorder: nopRecorder{},
		log:      log.Component("automl"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg.withDefaults() }

// borrowedStore keeps leaderboard.Close from closing a caller's store.
type borrowedStore struct{ leaderboard.Store }

func (borrowedStore) Close() error { return nil }

type run struct {
	o       *Orchestrator
	cfg     Config
	id      string
	stage   Stage
	started time.Time
	metric  string
	best    float64
	hasBest bool
	done    int
	log     log.Logger
}

// Run trains on ds to predict target. It returns a *errors.RunAbortedError
// when no model could be produced (empty budget, every trial failed, or
// ctx cancelled), a DataError for unusable data and a ConfigError for
// invalid settings.
func (o *Orchestrator) Run(ctx context.Context, ds *dataset.Dataset, target string) (*TrainedModel, error) {
	r := &run{
		o:       o,
		cfg:     o.cfg,
		id:      uuid.NewString(),
		stage:   StageInitializing,
		started: time.Now(),
	}
	r.log = o.log.With(log.RunIDKey, r.id)
	r.log.Info("run started", log.RandomSeedKey, r.cfg.Seed, "target", target)

	tm, err := r.execute(ctx, ds, target)
	if err != nil {
		r.abort(err)
		return nil, err
	}
	return tm, nil
}

func (r *run) execute(ctx context.Context, ds *dataset.Dataset, target string) (*TrainedModel, error) {
	cfg := r.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	task, err := model.ParseTask(cfg.Task)
	if err != nil {
		return nil, err
	}
	reg, err := r.o.registry.Only(cfg.Families...)
	if err != nil {
		return nil, err
	}

	r.advance(StageFeatureEngineering)
	fs, err := features.NewEngineer(
		features.WithTask(task),
		features.WithIDThreshold(cfg.IDThreshold),
		features.WithMaxCategories(cfg.MaxCategories),
		features.WithLeakageThreshold(cfg.LeakageThreshold),
		features.WithSeed(cfg.Seed),
		features.WithLogger(r.log.With(log.ComponentKey, "features")),
	).Fit(ds, target)
	if err != nil {
		return nil, err
	}
	X, y, err := fs.TrainingData(ds)
	if err != nil {
		return nil, err
	}
	task = fs.Target.Task
	metric, err := metrics.ForTask(cfg.Metric, task)
	if err != nil {
		return nil, err
	}
	r.metric = metric.Name()
	families := reg.For(task)
	if len(families) == 0 {
		return nil, errors.NewConfigError("families", "no candidate supports task "+string(task), reg.Names())
	}
	trainer, err := crossval.NewTrainer(X, y, crossval.Config{
		Families:          reg,
		Metric:            metric,
		Task:              task,
		NumClasses:        fs.NumClasses(),
		Splitter:          crossval.NewSplitter(task, cfg.Folds, cfg.Seed),
		Seed:              cfg.Seed,
		FitWorkers:        cfg.FitWorkers,
		FeatureSetVersion: fs.Version,
		Logger:            r.log.With(log.ComponentKey, "crossval"),
	})
	if err != nil {
		return nil, err
	}

	r.advance(StageSearching)
	var store leaderboard.Store = leaderboard.NewMemoryStore()
	if r.o.store != nil {
		store = borrowedStore{r.o.store}
	}
	lb, err := leaderboard.Open(ctx, store, leaderboard.WithLogger(r.log.With(log.ComponentKey, "leaderboard")))
	if err != nil {
		return nil, r.fatal(ctx, 0, errors.Wrap(err, "open leaderboard"))
	}
	defer lb.Close()

	st, err := r.resume(ctx, lb, fs.Version)
	if err != nil {
		return nil, err
	}
	r.done = st.Completed()
	if best, ok := st.Best(); ok {
		r.best, r.hasBest = best.Mean, true
	}
	if st.Completed() > 0 {
		r.log.Info("resuming search", "trials", st.Completed(), "next_id", st.NextID())
	}

	sched, err := search.NewScheduler(search.Config{
		Families:     families,
		Sampler:      r.sampler(),
		Pruner:       r.pruner(),
		Workers:      cfg.Workers,
		Budget:       search.Budget{MaxTrials: cfg.MaxTrials, Timeout: cfg.Timeout},
		TrialTimeout: cfg.TrialTimeout,
		Patience:     cfg.Patience,
		OnTrial:      r.onTrial,
		Logger:       r.log.With(log.ComponentKey, "search"),
	}, trainer, lb)
	if err != nil {
		return nil, err
	}
	res, err := sched.Run(ctx, st)
	if err != nil {
		return nil, r.fatal(ctx, res.State.Completed(), err)
	}
	if res.Stop == search.StopCancelled {
		return nil, errors.NewRunAbortedError(errors.AbortCancelled, lb.Len(), ctx.Err())
	}
	best, ok := lb.Best()
	if !ok {
		return nil, errors.NewRunAbortedError(errors.AbortNoValidModel, lb.Len(), nil)
	}

	r.advance(StageFinalizing)
	r.log.Info("retraining winner",
		log.TrialIDKey, best.ID,
		log.ModelNameKey, best.Family,
		log.ScoreMeanKey, best.Mean,
	)
	fitted, err := trainer.FitFull(ctx, best.Family, best.Params)
	if err != nil {
		return nil, r.fatal(ctx, lb.Len(), err)
	}
	full, err := crossval.Score(metric, fitted, X, y, fs.NumClasses())
	if err != nil {
		return nil, r.fatal(ctx, lb.Len(), errors.Wrap(err, "score full data"))
	}
	names := fs.Names()
	imp, method, err := importance(ctx, importanceInput{
		metric:     metric,
		fitted:     fitted,
		X:          X,
		y:          y,
		names:      names,
		numClasses: fs.NumClasses(),
		repeats:    cfg.PermutationRepeats,
		workers:    cfg.Workers,
		seed:       cfg.Seed,
	})
	if err != nil {
		return nil, r.fatal(ctx, lb.Len(), err)
	}
	baseline, err := metric.Baseline(y, y, fs.NumClasses())
	if err != nil {
		return nil, r.fatal(ctx, lb.Len(), errors.Wrap(err, "baseline score"))
	}

	a := artifact.Artifact{
		RunID:             r.id,
		CreatedAt:         time.Now().UTC(),
		TrialID:           best.ID,
		Family:            best.Family,
		Params:            best.Params.Clone(),
		Task:              task,
		Target:            fs.Target.Name,
		Classes:           append([]string(nil), fs.Target.Classes...),
		FeatureSetVersion: fs.Version,
		Features:          names,
		Metric:            metric.Name(),
		FoldScores:        append([]float64(nil), best.FoldScores...),
		CVMean:            best.Mean,
		CVStd:             best.Std,
		FullScore:         full,
		Baseline:          baseline,
		FittedParams:      fitted.FittedParams(),
		Importance:        imp,
		ImportanceMethod:  method,
		Trials:            lb.Len(),
		Stop:              string(res.Stop),
	}
	tm := &TrainedModel{
		artifact: a.Clone(),
		features: fs,
		fitted:   fitted,
		summary:  report.Summarize(a, cfg.TopFeatures),
	}
	if r.o.artifacts != nil {
		loc, err := r.o.artifacts.Save(ctx, a)
		if err != nil {
			return nil, r.fatal(ctx, lb.Len(), errors.Wrap(err, "save artifact"))
		}
		tm.location = loc
	}

	r.advance(StageDone)
	r.o.recorder.RunFinished(string(StageDone))
	r.log.Info("run finished",
		log.TrialIDKey, a.TrialID,
		log.ModelNameKey, a.Family,
		log.ScoreMeanKey, a.CVMean,
		log.ScoreStdKey, a.CVStd,
		log.ScoreKey, a.FullScore,
		log.ReasonKey, a.Stop,
		log.DurationMsKey, time.Since(r.started).Milliseconds(),
	)
	return tm, nil
}

// resume rebuilds the search state from the store. Entries recorded with a
// different feature set or metric belong to another run configuration.
func (r *run) resume(ctx context.Context, lb *leaderboard.Leaderboard, version string) (search.State, error) {
	entries := lb.Entries()
	for _, e := range entries {
		if e.FeatureSetVersion != version {
			return search.State{}, errors.NewConfigError("store", "holds trials of a different feature set", e.FeatureSetVersion)
		}
		if e.Metric != r.metric {
			return search.State{}, errors.NewConfigError("store", "holds trials scored with a different metric", e.Metric)
		}
	}
	cp, err := lb.LoadCheckpoint(ctx)
	if err != nil {
		return search.State{}, r.fatal(ctx, len(entries), err)
	}
	return search.Resume(r.cfg.Seed, cp, entries)
}

func (r *run) sampler() search.Sampler {
	if r.cfg.Sampler == SamplerRandom {
		return search.RandomSampler{}
	}
	return search.AdaptiveSampler{}
}

func (r *run) pruner() search.PrunerFactory {
	if !r.cfg.Pruning {
		return nil
	}
	return search.NewMedianPruner()
}

// fatal classifies an infrastructure failure. A failure caused by ctx is a
// cancellation.
func (r *run) fatal(ctx context.Context, trials int, err error) error {
	if ctx.Err() != nil {
		return errors.NewRunAbortedError(errors.AbortCancelled, trials, ctx.Err())
	}
	return errors.NewRunAbortedError(errors.AbortFatal, trials, err)
}

func (r *run) onTrial(t *trial.Trial, st search.State) {
	r.done = st.Completed()
	r.o.recorder.TrialCompleted(t.Family, string(t.State), t.Duration())
	if best, ok := st.Best(); ok {
		r.best, r.hasBest = best.Mean, true
		r.o.recorder.BestScore(r.metric, best.Mean)
	}
	r.emit(t.Clone())
}

func (r *run) advance(next Stage) {
	if !r.stage.CanAdvance(next) {
		r.log.Error("illegal stage transition", log.StageKey, string(r.stage), "next", string(next))
		return
	}
	prev := r.stage
	r.stage = next
	r.o.recorder.Stage(string(prev), string(next))
	r.log.Info("stage changed", log.StageKey, string(next), "previous", string(prev))
	r.emit(nil)
}

func (r *run) abort(err error) {
	outcome := "error"
	switch reason, ok := errors.IsRunAborted(err); {
	case ok:
		outcome = string(reason)
	case errors.IsDataError(err):
		outcome = "data_error"
	case errors.IsConfigError(err):
		outcome = "config_error"
	}
	r.log.Error("run aborted", log.ReasonKey, outcome, log.ErrorKey, err)
	r.advance(StageAborted)
	r.o.recorder.RunFinished(outcome)
}

func (r *run) emit(t *trial.Trial) {
	if r.o.progress == nil {
		return
	}
	r.o.progress(Progress{
		RunID:     r.id,
		Stage:     r.stage,
		Fraction:  r.fraction(),
		Completed: r.done,
		Total:     r.cfg.MaxTrials,
		BestScore: r.best,
		HasBest:   r.hasBest,
		Trial:     t,
	})
}

func (r *run) fraction() float64 {
	var f float64
	switch {
	case r.stage == StageDone:
		return 1
	case r.cfg.MaxTrials > 0:
		f = float64(r.done) / float64(r.cfg.MaxTrials)
	case r.cfg.Timeout > 0:
		f = float64(time.Since(r.started)) / float64(r.cfg.Timeout)
	}
	return min(f, 1)
}
