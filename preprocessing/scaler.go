// Package preprocessing provides column scalers shared by the distance- and
// gradient-based model families.
package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/otter-ml/otter/pkg/errors"
)

// StandardScaler はデータを平均0、標準偏差1に変換する
type StandardScaler struct {
	// Mean は各特徴量の平均値
	Mean []float64 `json:"mean"`

	// Scale は各特徴量の標準偏差（分散0の列は1）
	Scale []float64 `json:"scale"`
}

// FitStandardScaler は訓練データから平均と標準偏差を計算する
//
// 使用例:
//
//	scaler, err := preprocessing.FitStandardScaler(X)
//	XScaled, err := scaler.Transform(X)
func FitStandardScaler(X mat.Matrix) (*StandardScaler, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}

	s := &StandardScaler{Mean: make([]float64, c), Scale: make([]float64, c)}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)

		// 標準偏差が0に近い場合は1に設定（ゼロ除算を避ける）
		if s.Scale[j] < 1e-8 {
			s.Scale[j] = 1.0
		}
	}
	return s, nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, errors.NewDimensionError("StandardScaler.Transform", len(s.Mean), c, 1)
	}

	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return out, nil
}

// Unscale は標準化空間の係数を元の特徴量空間に戻す
// 戻り値は (元空間の係数, 切片の補正量)
func (s *StandardScaler) Unscale(coef []float64) ([]float64, float64) {
	out := make([]float64, len(coef))
	var shift float64
	for j, w := range coef {
		out[j] = w / s.Scale[j]
		shift -= out[j] * s.Mean[j]
	}
	return out, shift
}
