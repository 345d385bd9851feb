// Package neighbors implements k-nearest-neighbour classification and
// regression over standardised features.
package neighbors

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/parallel"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/preprocessing"
)

// Weighting selects how neighbours vote.
type Weighting string

const (
	Uniform  Weighting = "uniform"
	Distance Weighting = "distance"
)

// Metric selects the distance function.
type Metric string

const (
	Euclidean Metric = "euclidean"
	Manhattan Metric = "manhattan"
)

// KNN stores the standardised training set.
type KNN struct {
	K          int
	Weights    Weighting
	Metric     Metric
	NumClasses int // 0 for regression
	Workers    int

	train  *mat.Dense
	y      []float64
	scaler *preprocessing.StandardScaler
}

// Fit memorises X and y. y holds class indices when NumClasses > 0.
func (m *KNN) Fit(X mat.Matrix, y []float64) error {
	n, _ := X.Dims()
	if n == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if len(y) != n {
		return errors.NewDimensionError("KNN.Fit", n, len(y), 0)
	}
	if m.K < 1 {
		return errors.NewValidationError("n_neighbors", "must be at least 1", m.K)
	}
	scaler, err := preprocessing.FitStandardScaler(X)
	if err != nil {
		return err
	}
	train, err := scaler.Transform(X)
	if err != nil {
		return err
	}
	m.scaler, m.train, m.y = scaler, train, append([]float64(nil), y...)
	return nil
}

type neighbour struct {
	d   float64
	idx int
}

func (m *KNN) distance(a, b []float64) float64 {
	var d float64
	if m.Metric == Manhattan {
		for i := range a {
			d += math.Abs(a[i] - b[i])
		}
		return d
	}
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return math.Sqrt(d)
}

func (m *KNN) nearest(q []float64, buf []neighbour) []neighbour {
	n, _ := m.train.Dims()
	buf = buf[:0]
	for i := 0; i < n; i++ {
		buf = append(buf, neighbour{d: m.distance(q, m.train.RawRowView(i)), idx: i})
	}
	sort.Slice(buf, func(a, b int) bool {
		if buf[a].d != buf[b].d {
			return buf[a].d < buf[b].d
		}
		return buf[a].idx < buf[b].idx
	})
	k := min(m.K, n)
	return buf[:k]
}

func (m *KNN) weight(d float64) float64 {
	if m.Weights == Distance {
		return 1 / math.Max(d, 1e-12)
	}
	return 1
}

// votes fills row i of out with weighted class shares, or column 0 with the
// weighted mean for regression.
func (m *KNN) votes(X mat.Matrix, cols int) (*mat.Dense, error) {
	if m.train == nil {
		return nil, errors.NewNotFittedError("KNN", "Predict")
	}
	Z, err := m.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	rows, _ := Z.Dims()
	out := mat.NewDense(rows, cols, nil)
	nTrain, _ := m.train.Dims()

	parallel.ParallelizeWithThreshold(rows, 64, m.Workers, func(start, end int) {
		buf := make([]neighbour, 0, nTrain)
		for i := start; i < end; i++ {
			nbrs := m.nearest(Z.RawRowView(i), buf)
			var total float64
			row := out.RawRowView(i)
			for _, nb := range nbrs {
				w := m.weight(nb.d)
				total += w
				if m.NumClasses > 0 {
					row[int(m.y[nb.idx])] += w
				} else {
					row[0] += w * m.y[nb.idx]
				}
			}
			for c := range row {
				row[c] /= total
			}
		}
	})
	return out, nil
}

// PredictProba returns weighted neighbour class shares.
func (m *KNN) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if m.NumClasses == 0 {
		return nil, errors.New("neighbors: PredictProba on a regressor")
	}
	return m.votes(X, m.NumClasses)
}

// Predict returns the majority class or the weighted mean.
func (m *KNN) Predict(X mat.Matrix) ([]float64, error) {
	cols := m.NumClasses
	if cols == 0 {
		cols = 1
	}
	v, err := m.votes(X, cols)
	if err != nil {
		return nil, err
	}
	rows, _ := v.Dims()
	out := make([]float64, rows)
	for i := range out {
		row := v.RawRowView(i)
		if m.NumClasses == 0 {
			out[i] = row[0]
			continue
		}
		best := 0
		for c := 1; c < len(row); c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[i] = float64(best)
	}
	return out, nil
}

// TrainingRows returns the number of memorised rows.
func (m *KNN) TrainingRows() int {
	if m.train == nil {
		return 0
	}
	n, _ := m.train.Dims()
	return n
}
