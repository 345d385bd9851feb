// Package metrics implements the objective metrics used to score trials.
//
// Every Metric reports a score where higher is better. Loss metrics are
// therefore exposed negated (neg_log_loss, neg_rmse, neg_mae).
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

// Metric is a named, higher-is-better objective.
type Metric struct {
	name        string
	task        model.Task
	needsProba  bool
	description string
	score       func(yTrue, yPred []float64, proba *mat.Dense, numClasses int) (float64, error)
	floor       func(yTrue []float64) float64
}

// Name returns the registry name.
func (m Metric) Name() string { return m.name }

// Task returns the task the metric applies to.
func (m Metric) Task() model.Task { return m.task }

// NeedsProba reports whether Score reads class probabilities.
func (m Metric) NeedsProba() bool { return m.needsProba }

// Description is a short plain-language explanation for reports.
func (m Metric) Description() string { return m.description }

// Score evaluates predictions. proba may be nil unless NeedsProba.
// A non-finite result is returned as a NumericalInstabilityError.
func (m Metric) Score(yTrue, yPred []float64, proba *mat.Dense, numClasses int) (float64, error) {
	if m.score == nil {
		return 0, errors.New("metrics: zero Metric")
	}
	if m.needsProba && proba == nil {
		proba = OneHot(yPred, numClasses)
	}
	s, err := m.score(yTrue, yPred, proba, numClasses)
	if err != nil {
		return 0, err
	}
	if err := errors.CheckScalar(m.name, s, 0); err != nil {
		return 0, err
	}
	return s, nil
}

// Floor is the worst-case score recorded for a fold that failed.
func (m Metric) Floor(yTrue []float64) float64 {
	return m.floor(yTrue)
}

// Baseline scores the trivial predictor fitted on yTrain against yTest:
// the majority class with training class frequencies, or the training mean.
func (m Metric) Baseline(yTrain, yTest []float64, numClasses int) (float64, error) {
	if len(yTrain) == 0 || len(yTest) == 0 {
		return 0, errors.NewValidationError("Baseline", "empty input", 0)
	}
	pred := make([]float64, len(yTest))
	var proba *mat.Dense
	if m.task == model.Classification {
		counts := make([]float64, numClasses)
		for _, y := range yTrain {
			if c := int(y); c >= 0 && c < numClasses {
				counts[c]++
			}
		}
		majority := 0
		for c := range counts {
			if counts[c] > counts[majority] {
				majority = c
			}
		}
		proba = mat.NewDense(len(yTest), numClasses, nil)
		for i := range pred {
			pred[i] = float64(majority)
			for c := range counts {
				proba.Set(i, c, counts[c]/float64(len(yTrain)))
			}
		}
	} else {
		mean := stat.Mean(yTrain, nil)
		for i := range pred {
			pred[i] = mean
		}
	}
	if m.name == "roc_auc" {
		// A constant scorer ranks nothing.
		return 0.5, nil
	}
	return m.Score(yTest, pred, proba, numClasses)
}

func constFloor(v float64) func([]float64) float64 {
	return func([]float64) float64 { return v }
}

func rangeFloor(yTrue []float64) float64 {
	if r := valueRange(yTrue); r > 0 {
		return -r
	}
	return -1
}

var registry = map[string]Metric{
	"accuracy": {
		name: "accuracy", task: model.Classification,
		description: "share of rows whose class is predicted correctly",
		score: func(yTrue, yPred []float64, _ *mat.Dense, _ int) (float64, error) {
			return Accuracy(yTrue, yPred)
		},
		floor: constFloor(0),
	},
	"f1": {
		name: "f1", task: model.Classification,
		description: "balance of precision and recall (macro-averaged for more than two classes)",
		score: func(yTrue, yPred []float64, _ *mat.Dense, k int) (float64, error) {
			return F1(yTrue, yPred, k)
		},
		floor: constFloor(0),
	},
	"roc_auc": {
		name: "roc_auc", task: model.Classification, needsProba: true,
		description: "probability that a positive row is ranked above a negative one",
		score: func(yTrue, _ []float64, proba *mat.Dense, _ int) (float64, error) {
			return ROCAUC(yTrue, proba)
		},
		floor: constFloor(0),
	},
	"neg_log_loss": {
		name: "neg_log_loss", task: model.Classification, needsProba: true,
		description: "negated log loss of the predicted probabilities (closer to 0 is better)",
		score: func(yTrue, _ []float64, proba *mat.Dense, _ int) (float64, error) {
			l, err := LogLoss(yTrue, proba)
			return -l, err
		},
		floor: constFloor(math.Log(probaEps)),
	},
	"r2": {
		name: "r2", task: model.Regression,
		description: "share of the target's variance explained by the model",
		score: func(yTrue, yPred []float64, _ *mat.Dense, _ int) (float64, error) {
			return R2Score(yTrue, yPred)
		},
		floor: constFloor(-1),
	},
	"neg_rmse": {
		name: "neg_rmse", task: model.Regression,
		description: "negated root mean squared error in target units (closer to 0 is better)",
		score: func(yTrue, yPred []float64, _ *mat.Dense, _ int) (float64, error) {
			v, err := RMSE(yTrue, yPred)
			return -v, err
		},
		floor: rangeFloor,
	},
	"neg_mae": {
		name: "neg_mae", task: model.Regression,
		description: "negated mean absolute error in target units (closer to 0 is better)",
		score: func(yTrue, yPred []float64, _ *mat.Dense, _ int) (float64, error) {
			v, err := MAE(yTrue, yPred)
			return -v, err
		},
		floor: rangeFloor,
	},
}

// Lookup returns a metric by name.
func Lookup(name string) (Metric, error) {
	m, ok := registry[name]
	if !ok {
		return Metric{}, errors.NewConfigError("metric", "unknown metric", name)
	}
	return m, nil
}

// ForTask resolves name for task. An empty name selects the task default
// (accuracy or r2). A metric of the wrong task is a ConfigError.
func ForTask(name string, task model.Task) (Metric, error) {
	if name == "" {
		if task == model.Regression {
			name = "r2"
		} else {
			name = "accuracy"
		}
	}
	m, err := Lookup(name)
	if err != nil {
		return Metric{}, err
	}
	if m.task != task {
		return Metric{}, errors.NewConfigError("metric", "metric does not apply to task "+string(task), name)
	}
	return m, nil
}

// Names lists the registered metrics in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
