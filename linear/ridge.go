// Package linear implements the linear model families: ridge regression and
// L2-regularised logistic regression. Both standardise their inputs
// internally and report coefficients in the original feature space.
package linear

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/preprocessing"
)

// Ridge は L2 正則化付き線形回帰モデル
type Ridge struct {
	alpha float64

	// 学習結果（元の特徴量空間）
	coef      []float64
	intercept float64
	// 標準化空間の係数。重要度の計算に使う
	scaledCoef []float64
	scaler     *preprocessing.StandardScaler
}

// RidgeOption は Ridge の設定関数
type RidgeOption func(*Ridge)

// WithAlpha は正則化の強さを設定する
func WithAlpha(alpha float64) RidgeOption {
	return func(r *Ridge) { r.alpha = alpha }
}

// NewRidge は新しい Ridge を作成する
func NewRidge(opts ...RidgeOption) *Ridge {
	r := &Ridge{alpha: 1.0}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fit は (ZᵀZ + αI)w = Zᵀ(y - ȳ) を解いて学習する
// Z は標準化済みの X
func (r *Ridge) Fit(X mat.Matrix, y []float64) error {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if len(y) != n {
		return errors.NewDimensionError("Ridge.Fit", n, len(y), 0)
	}
	if r.alpha < 0 || math.IsNaN(r.alpha) {
		return errors.NewValidationError("alpha", "must be non-negative", r.alpha)
	}

	scaler, err := preprocessing.FitStandardScaler(X)
	if err != nil {
		return err
	}
	Z, err := scaler.Transform(X)
	if err != nil {
		return err
	}

	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, Z.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.alpha)
	}

	var zty mat.VecDense
	zty.MulVec(Z.T(), yc)

	w := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); ok {
		if err := chol.SolveVecTo(w, &zty); err != nil {
			return errors.Wrap(errors.ErrSingularMatrix, "Ridge.Fit")
		}
	} else if err := w.SolveVec(&gram, &zty); err != nil {
		return errors.Wrap(errors.ErrSingularMatrix, "Ridge.Fit")
	}

	r.scaledCoef = mat.Col(nil, 0, w)
	if err := errors.CheckNumericalStability("Ridge.Fit", r.scaledCoef, 0); err != nil {
		return err
	}
	coef, shift := scaler.Unscale(r.scaledCoef)
	r.coef = coef
	r.intercept = yMean + shift
	r.scaler = scaler
	return nil
}

// Predict は y = Xw + b を返す
func (r *Ridge) Predict(X mat.Matrix) ([]float64, error) {
	if r.scaler == nil {
		return nil, errors.NewNotFittedError("Ridge", "Predict")
	}
	return linearPredict("Ridge.Predict", X, r.coef, r.intercept)
}

// Coef は元の特徴量空間の係数を返す
func (r *Ridge) Coef() []float64 { return append([]float64(nil), r.coef...) }

// Intercept は切片を返す
func (r *Ridge) Intercept() float64 { return r.intercept }

// FeatureImportances は |係数| × 標準偏差（= 標準化空間の |係数|）を返す
func (r *Ridge) FeatureImportances() []float64 {
	out := make([]float64, len(r.scaledCoef))
	for j, w := range r.scaledCoef {
		out[j] = math.Abs(w)
	}
	return out
}

func linearPredict(op string, X mat.Matrix, coef []float64, intercept float64) ([]float64, error) {
	n, p := X.Dims()
	if p != len(coef) {
		return nil, errors.NewDimensionError(op, len(coef), p, 1)
	}
	var out mat.VecDense
	out.MulVec(X, mat.NewVecDense(p, append([]float64(nil), coef...)))
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = out.AtVec(i) + intercept
	}
	return pred, nil
}
