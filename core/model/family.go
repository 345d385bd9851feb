package model

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Family is a model family the search can tune. Implementations must be
// safe for concurrent Fit calls; each call returns an independent Fitted.
type Family interface {
	// Name is the stable identifier recorded on trials and artifacts.
	Name() string
	// Supports reports whether the family can learn the given task.
	Supports(task Task) bool
	// Space declares the tunable hyperparameters.
	Space() Space
	// Fit trains one model. y holds class indices 0..k-1 for classification.
	Fit(ctx context.Context, X mat.Matrix, y []float64, p Params, opt FitOptions) (Fitted, error)
}

// Fitted is a trained model instance.
type Fitted interface {
	// Predict returns class indices for classification and values for regression.
	Predict(X mat.Matrix) ([]float64, error)
	// FittedParams returns the learned state in a JSON-friendly form.
	FittedParams() map[string]any
}

// ProbabilityPredictor is implemented by classifiers that can return
// per-class probabilities (rows x classes).
type ProbabilityPredictor interface {
	PredictProba(X mat.Matrix) (*mat.Dense, error)
}

// ImportanceReporter is implemented by models with a native attribution
// method. The slice has one non-negative entry per input column.
type ImportanceReporter interface {
	FeatureImportances() []float64
	// ImportanceMethod names the attribution, e.g. "impurity".
	ImportanceMethod() string
}

// FitOptions carries run-level settings that are not hyperparameters.
type FitOptions struct {
	Task       Task
	NumClasses int
	// Seed drives every stochastic step of the fit.
	Seed uint64
	// Workers bounds any internal parallelism. 1 means sequential.
	Workers int
}
