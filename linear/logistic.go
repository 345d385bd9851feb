package linear

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/preprocessing"
)

// LogisticRegression implements L2-regularised logistic regression trained
// by full-batch gradient descent. Multiclass problems are fitted one-vs-rest
// and the per-class probabilities are renormalised.
type LogisticRegression struct {
	// Hyperparameters
	C            float64 // Inverse regularization strength
	MaxIter      int     // Maximum gradient steps per class
	Tol          float64 // Stop when the largest gradient component is below Tol
	LearningRate float64 // Base step, decayed as lr / (1 + 0.1 iter)

	// Model parameters, in standardized feature space
	coef      [][]float64
	intercept []float64
	nIter     []int
	nClasses  int
	scaler    *preprocessing.StandardScaler
}

// LogisticOption is a functional option for LogisticRegression
type LogisticOption func(*LogisticRegression)

// WithC sets the inverse regularization strength
func WithC(c float64) LogisticOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithMaxIter sets the maximum number of iterations
func WithMaxIter(n int) LogisticOption {
	return func(lr *LogisticRegression) { lr.MaxIter = n }
}

// WithTol sets the tolerance for stopping criteria
func WithTol(tol float64) LogisticOption {
	return func(lr *LogisticRegression) { lr.Tol = tol }
}

// WithLearningRate sets the base gradient step
func WithLearningRate(rate float64) LogisticOption {
	return func(lr *LogisticRegression) { lr.LearningRate = rate }
}

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticOption) *LogisticRegression {
	lr := &LogisticRegression{C: 1.0, MaxIter: 200, Tol: 1e-4, LearningRate: 1.0}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Fit trains on class indices y in [0, numClasses). ctx is checked between
// gradient steps.
func (lr *LogisticRegression) Fit(ctx context.Context, X mat.Matrix, y []float64, numClasses int) error {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if len(y) != n {
		return errors.NewDimensionError("LogisticRegression.Fit", n, len(y), 0)
	}
	if numClasses < 2 {
		return errors.NewValidationError("numClasses", "need at least two classes", numClasses)
	}
	if lr.C <= 0 || math.IsNaN(lr.C) {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.MaxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.MaxIter)
	}

	scaler, err := preprocessing.FitStandardScaler(X)
	if err != nil {
		return err
	}
	Z, err := scaler.Transform(X)
	if err != nil {
		return err
	}

	models := numClasses
	if numClasses == 2 {
		// Binary classification: single set of weights for class 1
		models = 1
	}
	lr.coef = make([][]float64, models)
	lr.intercept = make([]float64, models)
	lr.nIter = make([]int, models)
	lr.nClasses = numClasses

	target := make([]float64, n)
	for m := 0; m < models; m++ {
		class := float64(m)
		if models == 1 {
			class = 1
		}
		for i, v := range y {
			target[i] = 0
			if v == class {
				target[i] = 1
			}
		}
		if err := lr.fitBinary(ctx, Z, target, m); err != nil {
			return err
		}
	}
	lr.scaler = scaler
	return nil
}

// fitBinary runs gradient descent for one weight vector
func (lr *LogisticRegression) fitBinary(ctx context.Context, Z *mat.Dense, target []float64, m int) error {
	n, p := Z.Dims()
	w := mat.NewVecDense(p, nil)
	b := 0.0
	lambda := 1.0 / (lr.C * float64(n))

	var z, grad mat.VecDense
	residual := mat.NewVecDense(n, nil)
	for iter := 0; iter < lr.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		z.MulVec(Z, w)
		gradB := 0.0
		for i := 0; i < n; i++ {
			e := errors.Sigmoid(z.AtVec(i)+b) - target[i]
			residual.SetVec(i, e)
			gradB += e
		}
		gradB /= float64(n)

		grad.MulVec(Z.T(), residual)
		grad.ScaleVec(1/float64(n), &grad)
		grad.AddScaledVec(&grad, lambda, w)

		// Adaptive learning rate
		rate := lr.LearningRate / (1.0 + 0.1*float64(iter))
		w.AddScaledVec(w, -rate, &grad)
		b -= rate * gradB
		lr.nIter[m] = iter + 1

		maxGrad := math.Abs(gradB)
		for j := 0; j < p; j++ {
			maxGrad = math.Max(maxGrad, math.Abs(grad.AtVec(j)))
		}
		if math.IsNaN(maxGrad) || math.IsInf(maxGrad, 0) {
			return errors.NewNumericalInstabilityError("LogisticRegression.Fit", []float64{maxGrad}, iter)
		}
		if maxGrad < lr.Tol {
			break
		}
	}

	lr.coef[m] = mat.Col(nil, 0, w)
	lr.intercept[m] = b
	return nil
}

// PredictProba returns class probabilities (rows x classes)
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if lr.scaler == nil {
		return nil, errors.NewNotFittedError("LogisticRegression", "PredictProba")
	}
	Z, err := lr.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	n, _ := Z.Dims()
	proba := mat.NewDense(n, lr.nClasses, nil)
	for m := range lr.coef {
		scores, err := linearPredict("LogisticRegression.PredictProba", Z, lr.coef[m], lr.intercept[m])
		if err != nil {
			return nil, err
		}
		for i, s := range scores {
			if len(lr.coef) == 1 {
				p := errors.Sigmoid(s)
				proba.Set(i, 0, 1-p)
				proba.Set(i, 1, p)
			} else {
				proba.Set(i, m, errors.Sigmoid(s))
			}
		}
	}
	if len(lr.coef) > 1 {
		for i := 0; i < n; i++ {
			row := proba.RawRowView(i)
			var sum float64
			for _, v := range row {
				sum += v
			}
			for c := range row {
				row[c] = errors.SafeDivide(row[c], sum)
			}
		}
	}
	return proba, nil
}

// Predict returns the most probable class index for each row
func (lr *LogisticRegression) Predict(X mat.Matrix) ([]float64, error) {
	proba, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba), nil
}

// Coef returns the coefficients mapped back to the original feature space
func (lr *LogisticRegression) Coef() [][]float64 {
	if lr.scaler == nil {
		return nil
	}
	out := make([][]float64, len(lr.coef))
	for m, w := range lr.coef {
		out[m], _ = lr.scaler.Unscale(w)
	}
	return out
}

// Intercept returns the intercepts in the original feature space
func (lr *LogisticRegression) Intercept() []float64 {
	if lr.scaler == nil {
		return nil
	}
	out := make([]float64, len(lr.coef))
	for m, w := range lr.coef {
		_, shift := lr.scaler.Unscale(w)
		out[m] = lr.intercept[m] + shift
	}
	return out
}

// NIter returns the gradient steps taken per weight vector
func (lr *LogisticRegression) NIter() []int { return append([]int(nil), lr.nIter...) }

// FeatureImportances averages |standardized coefficient| over the weight vectors
func (lr *LogisticRegression) FeatureImportances() []float64 {
	if len(lr.coef) == 0 {
		return nil
	}
	out := make([]float64, len(lr.coef[0]))
	for _, w := range lr.coef {
		for j, v := range w {
			out[j] += math.Abs(v) / float64(len(lr.coef))
		}
	}
	return out
}

func argmaxRows(proba *mat.Dense) []float64 {
	n, k := proba.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		best := 0
		for c := 1; c < k; c++ {
			if proba.At(i, c) > proba.At(i, best) {
				best = c
			}
		}
		out[i] = float64(best)
	}
	return out
}
