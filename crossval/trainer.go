package crossval

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/metrics"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
)

// Catalog resolves family names. *candidates.Registry satisfies it.
type Catalog interface {
	Get(name string) (model.Family, bool)
}

// Pruner is consulted after every fold but the last. scores holds the fold
// scores recorded so far, floors included.
type Pruner interface {
	Prune(fold int, scores []float64) bool
}

// Config describes how trials are scored.
type Config struct {
	Families   Catalog
	Metric     metrics.Metric
	Task       model.Task
	NumClasses int
	Splitter   Splitter
	Seed       uint64

	// FitWorkers bounds parallelism inside a single fit.
	FitWorkers int

	// FeatureSetVersion is stamped on every evaluated trial.
	FeatureSetVersion string

	Logger log.Logger
}

type foldData struct {
	trainX *mat.Dense
	trainY []float64
	testX  *mat.Dense
	testY  []float64
	floor  float64
}

// Trainer scores trial configurations on a fixed set of folds. The folds
// and their matrices are built once and only read afterwards, so Evaluate is
// safe for concurrent use.
type Trainer struct {
	cfg   Config
	X     *mat.Dense
	y     []float64
	folds []Fold
	data  []foldData
	log   log.Logger
}

// NewTrainer splits X/y and materialises every fold.
func NewTrainer(X *mat.Dense, y []float64, cfg Config) (*Trainer, error) {
	rows, _ := X.Dims()
	if rows != len(y) {
		return nil, errors.NewDimensionError("crossval.NewTrainer", rows, len(y), 0)
	}
	if cfg.Families == nil {
		return nil, errors.NewConfigError("candidates", "no families configured", nil)
	}
	if cfg.Splitter == nil {
		cfg.Splitter = NewSplitter(cfg.Task, DefaultFolds, cfg.Seed)
	}
	if cfg.FitWorkers <= 0 {
		cfg.FitWorkers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("crossval")
	}

	folds, err := cfg.Splitter.Split(y)
	if err != nil {
		return nil, err
	}
	tr := &Trainer{cfg: cfg, X: X, y: y, folds: folds, log: cfg.Logger}
	tr.data = make([]foldData, len(folds))
	for i, f := range folds {
		d := foldData{
			trainX: subset(X, f.Train),
			trainY: pick(y, f.Train),
			testX:  subset(X, f.Test),
			testY:  pick(y, f.Test),
		}
		d.floor = cfg.Metric.Floor(d.testY)
		tr.data[i] = d
	}
	tr.log.Debug("folds prepared",
		log.FoldsKey, len(folds),
		log.SamplesKey, rows,
		log.MetricKey, cfg.Metric.Name(),
	)
	return tr, nil
}

// Folds returns a copy of the fold assignment.
func (tr *Trainer) Folds() []Fold {
	out := make([]Fold, len(tr.folds))
	for i, f := range tr.folds {
		out[i] = Fold{Train: append([]int(nil), f.Train...), Test: append([]int(nil), f.Test...)}
	}
	return out
}

// NumFolds returns the fold count.
func (tr *Trainer) NumFolds() int { return len(tr.folds) }

// Metric returns the objective metric.
func (tr *Trainer) Metric() metrics.Metric { return tr.cfg.Metric }

// Evaluate fits t's configuration on every fold and returns the completed
// trial. t itself is not modified. A failing fold records the metric's floor
// score. The only error returned is ctx's: a cancelled evaluation yields no
// trial at all.
func (tr *Trainer) Evaluate(ctx context.Context, t *trial.Trial, pruner Pruner) (*trial.Trial, error) {
	start := time.Now()
	out := t.Clone()
	out.State = trial.Running
	out.Metric = tr.cfg.Metric.Name()
	out.FeatureSetVersion = tr.cfg.FeatureSetVersion
	out.FoldScores = make([]float64, 0, len(tr.folds))

	fam, ok := tr.cfg.Families.Get(t.Family)
	if !ok {
		return tr.Fail(t, errors.TrialFit, fmt.Sprintf("unknown family %q", t.Family)), nil
	}
	logger := tr.log.With(log.TrialIDKey, t.ID, log.ModelNameKey, t.Family)

	for k := range tr.data {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		score, kind, err := tr.evalFold(ctx, fam, out, k)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.WithStack(ctxErr)
			}
			logger.Debug("fold failed", log.FoldKey, k, log.ReasonKey, string(kind), log.ErrorKey, err)
			out.FoldErrors = append(out.FoldErrors, trial.FoldError{Fold: k, Kind: kind, Message: err.Error()})
			score = tr.data[k].floor
		}
		out.FoldScores = append(out.FoldScores, score)

		if pruner != nil && k < len(tr.data)-1 && pruner.Prune(k, out.FoldScores) {
			out.Pruned = true
			break
		}
	}

	finish(out, time.Since(start))
	logger.Debug("trial evaluated",
		log.TrialStateKey, string(out.State),
		log.ScoreMeanKey, out.Mean,
		log.ScoreStdKey, out.Std,
		log.DurationMsKey, out.DurationMs,
	)
	return out, nil
}

// Fail returns t completed as Failed without evaluating it.
func (tr *Trainer) Fail(t *trial.Trial, kind errors.TrialErrorKind, msg string) *trial.Trial {
	out := t.Clone()
	out.State = trial.Failed
	out.Metric = tr.cfg.Metric.Name()
	out.FeatureSetVersion = tr.cfg.FeatureSetVersion
	out.Cause = &trial.Cause{Kind: kind, Message: msg}
	out.FinishedAt = time.Now().UTC()
	return out
}

func (tr *Trainer) evalFold(ctx context.Context, fam model.Family, t *trial.Trial, k int) (float64, errors.TrialErrorKind, error) {
	d := tr.data[k]
	kind := errors.TrialFit
	var score float64
	err := errors.SafeExecute("fold evaluation", func() error {
		fitted, err := fam.Fit(ctx, d.trainX, d.trainY, t.Params, tr.fitOptions(t.ID, k))
		if err != nil {
			return err
		}
		score, err = Score(tr.cfg.Metric, fitted, d.testX, d.testY, tr.cfg.NumClasses)
		return err
	})
	switch {
	case err == nil:
		return score, "", nil
	case errors.IsPanic(err):
		kind = errors.TrialPanic
	case isNumeric(err):
		kind = errors.TrialNumeric
	}
	return 0, kind, err
}

func (tr *Trainer) fitOptions(trialID, fold int) model.FitOptions {
	return model.FitOptions{
		Task:       tr.cfg.Task,
		NumClasses: tr.cfg.NumClasses,
		Seed:       tr.cfg.Seed + uint64(trialID)*1_000_003 + uint64(fold),
		Workers:    tr.cfg.FitWorkers,
	}
}

// FitFull retrains a configuration on every row.
func (tr *Trainer) FitFull(ctx context.Context, family string, params model.Params) (model.Fitted, error) {
	fam, ok := tr.cfg.Families.Get(family)
	if !ok {
		return nil, errors.NewConfigError("family", "unknown family", family)
	}
	var fitted model.Fitted
	err := errors.SafeExecute("full fit", func() error {
		var err error
		fitted, err = fam.Fit(ctx, tr.X, tr.y, params, model.FitOptions{
			Task:       tr.cfg.Task,
			NumClasses: tr.cfg.NumClasses,
			Seed:       tr.cfg.Seed,
			Workers:    tr.cfg.FitWorkers,
		})
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fit %s on full data", family)
	}
	return fitted, nil
}

// Score predicts X with fitted and evaluates m against y. Non-finite
// predictions are a NumericalInstabilityError.
func Score(m metrics.Metric, fitted model.Fitted, X mat.Matrix, y []float64, numClasses int) (float64, error) {
	pred, err := fitted.Predict(X)
	if err != nil {
		return 0, err
	}
	if err := errors.CheckNumericalStability("predict", pred, 0); err != nil {
		return 0, err
	}
	var proba *mat.Dense
	if m.NeedsProba() {
		if pp, ok := fitted.(model.ProbabilityPredictor); ok {
			if proba, err = pp.PredictProba(X); err != nil {
				return 0, err
			}
			if err := errors.CheckNumericalStability("predict_proba", proba.RawMatrix().Data, 0); err != nil {
				return 0, err
			}
		}
	}
	return m.Score(y, pred, proba, numClasses)
}

func finish(t *trial.Trial, elapsed time.Duration) {
	t.DurationMs = elapsed.Milliseconds()
	t.FinishedAt = time.Now().UTC()
	t.Mean, t.Std = meanStd(t.FoldScores)

	ok := t.SucceededFolds()
	switch {
	case t.Pruned:
		t.State = trial.Degraded
		if ok == 0 {
			t.State = trial.Failed
		}
		t.Cause = &trial.Cause{
			Kind:    errors.TrialPruned,
			Message: fmt.Sprintf("pruned after fold %d", len(t.FoldScores)-1),
		}
	case len(t.FoldErrors) == 0:
		t.State = trial.Scored
	default:
		t.State = trial.Degraded
		if ok == 0 {
			t.State = trial.Failed
		}
		first := t.FoldErrors[0]
		t.Cause = &trial.Cause{Kind: first.Kind, Message: first.Message}
	}
}

// meanStd returns the mean and sample standard deviation; one score has
// zero spread.
func meanStd(scores []float64) (float64, float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	if len(scores) == 1 {
		return scores[0], 0
	}
	mean, std := stat.MeanStdDev(scores, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

func isNumeric(err error) bool {
	var ni *errors.NumericalInstabilityError
	return errors.As(err, &ni)
}

func subset(X *mat.Dense, rows []int) *mat.Dense {
	_, cols := X.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		out.SetRow(i, X.RawRowView(r))
	}
	return out
}

func pick(y []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}
