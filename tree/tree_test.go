package tree

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/pkg/errors"
)

func separable() (*mat.Dense, []float64) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})
	return X, []float64{0, 0, 0, 0, 1, 1, 1, 1}
}

func TestClassifierFitPredict(t *testing.T) {
	X, y := separable()
	for _, crit := range []Criterion{Gini, Entropy} {
		tr, err := Fit(context.Background(), X, y, Config{NumClasses: 2, Criterion: crit, MaxDepth: 5})
		require.NoError(t, err)

		pred, err := tr.Predict(X)
		require.NoError(t, err)
		assert.Equal(t, y, pred, string(crit))

		test := mat.NewDense(2, 2, []float64{0.5, 0.5, 3.5, 3.5})
		pred, err = tr.Predict(test)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1}, pred)
		assert.Equal(t, 3, tr.NodeCount())
		assert.Equal(t, 2, tr.Leaves())
	}
}

func TestPredictProbaSumsToOne(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	y := []float64{0, 0, 1, 0, 1, 1}
	tr, err := Fit(context.Background(), X, y, Config{NumClasses: 2, MaxDepth: 1})
	require.NoError(t, err)

	proba, err := tr.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.InDelta(t, 1, proba.At(i, 0)+proba.At(i, 1), 1e-12)
		assert.GreaterOrEqual(t, proba.At(i, 0), 0.0)
	}
}

func TestRegressorAndImportances(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 9))
	n := 200
	X := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b, c := r.Float64(), r.Float64(), r.Float64()
		X.SetRow(i, []float64{a, b, c})
		y[i] = 10 * math.Floor(a*4)
	}

	tr, err := Fit(context.Background(), X, y, Config{MaxDepth: 4})
	require.NoError(t, err)
	pred, err := tr.Predict(X)
	require.NoError(t, err)
	for i := range y {
		assert.InDelta(t, y[i], pred[i], 1e-9)
	}

	imp := tr.FeatureImportances()
	assert.InDelta(t, 1, imp[0]+imp[1]+imp[2], 1e-12)
	assert.Greater(t, imp[0], 0.99)
}

func TestMinSamplesLeafAndDepth(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	y := []float64{0, 1, 0, 1, 0, 1}
	tr, err := Fit(context.Background(), X, y, Config{NumClasses: 2, MinSamplesLeaf: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, tr.Depth(), 1)

	tr, err = Fit(context.Background(), X, y, Config{NumClasses: 2, MaxDepth: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, tr.Depth(), 2)
}

func TestFitErrors(t *testing.T) {
	X, y := separable()
	_, err := Fit(context.Background(), X, y[:3], Config{NumClasses: 2})
	assert.Error(t, err)

	_, err = Fit(context.Background(), X, []float64{0, 0, 0, 0, 1, 1, 1, 5}, Config{NumClasses: 2})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Fit(ctx, X, y, Config{NumClasses: 2})
	assert.True(t, errors.Is(err, context.Canceled))

	tr, err := Fit(context.Background(), X, y, Config{NumClasses: 2})
	require.NoError(t, err)
	_, err = tr.Predict(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}

func TestForestIsDeterministicAcrossWorkers(t *testing.T) {
	r := rand.New(rand.NewPCG(2, 3))
	n := 120
	X := mat.NewDense(n, 4, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		row := []float64{r.NormFloat64(), r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}
		X.SetRow(i, row)
		if row[0]+row[1] > 0 {
			y[i] = 1
		}
	}

	cfg := ForestConfig{
		Tree:      Config{NumClasses: 2, MaxDepth: 6, MaxFeatures: MaxFeatures("sqrt", 4), Seed: 11},
		NumTrees:  16,
		Bootstrap: true,
	}
	cfg.Workers = 1
	seq, err := FitForest(context.Background(), X, y, cfg)
	require.NoError(t, err)
	cfg.Workers = 4
	par, err := FitForest(context.Background(), X, y, cfg)
	require.NoError(t, err)

	ps, err := seq.PredictProba(X)
	require.NoError(t, err)
	pp, err := par.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(ps, pp, 1e-12))

	pred, err := par.Predict(X)
	require.NoError(t, err)
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	assert.Greater(t, correct, 105)

	imp := par.FeatureImportances()
	assert.Greater(t, imp[0]+imp[1], imp[2]+imp[3])
	assert.Equal(t, 16, par.NumTrees())
}

func TestMaxFeatures(t *testing.T) {
	assert.Equal(t, 3, MaxFeatures("sqrt", 9))
	assert.Equal(t, 3, MaxFeatures("log2", 8))
	assert.Equal(t, 1, MaxFeatures("third", 2))
	assert.Equal(t, 0, MaxFeatures("all", 8))
}
