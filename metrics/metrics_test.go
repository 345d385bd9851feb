package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

func TestRegressionMetrics(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(a, b []float64) (float64, error)
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{"mse simple", MSE, []float64{1, 2, 3, 4}, []float64{1.5, 2.5, 2.5, 3.5}, 0.25, false},
		{"rmse simple", RMSE, []float64{1, 2, 3, 4}, []float64{1.5, 2.5, 2.5, 3.5}, 0.5, false},
		{"mae", MAE, []float64{10, 20, 30}, []float64{12, 18, 33}, 7.0 / 3.0, false},
		{"r2 perfect", R2Score, []float64{1, 2, 3}, []float64{1, 2, 3}, 1, false},
		{"r2 mean predictor", R2Score, []float64{1, 2, 3}, []float64{2, 2, 2}, 0, false},
		{"r2 constant target mismatch", R2Score, []float64{2, 2}, []float64{1, 3}, 0, false},
		{"dimension mismatch", MSE, []float64{1, 2, 3}, []float64{1, 2}, 0, true},
		{"empty", MAE, nil, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.yTrue, tt.yPred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-10)
		})
	}
}

func TestClassificationMetrics(t *testing.T) {
	yTrue := []float64{0, 0, 1, 1, 1}
	yPred := []float64{0, 1, 1, 1, 0}

	acc, err := Accuracy(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, acc, 1e-12)

	// tp=2 fp=1 fn=1
	f1, err := F1(yTrue, yPred, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, f1, 1e-12)

	proba := mat.NewDense(4, 2, []float64{
		0.9, 0.1,
		0.6, 0.4,
		0.65, 0.35,
		0.2, 0.8,
	})
	auc, err := ROCAUC([]float64{0, 0, 1, 1}, proba)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, auc, 1e-12)

	_, err = ROCAUC([]float64{1, 1, 1, 1}, proba)
	assert.Error(t, err, "single class has no AUC")

	ll, err := LogLoss([]float64{0, 1}, mat.NewDense(2, 2, []float64{1, 0, 0.5, 0.5}))
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2)/2, ll, 1e-9)
}

func TestMulticlassAUCAndF1(t *testing.T) {
	yTrue := []float64{0, 1, 2, 0, 1, 2}
	proba := OneHot(yTrue, 3)
	auc, err := ROCAUC(yTrue, proba)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, auc, 1e-12)

	f1, err := F1(yTrue, yTrue, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f1, 1e-12)
}

func TestForTask(t *testing.T) {
	m, err := ForTask("", model.Classification)
	require.NoError(t, err)
	assert.Equal(t, "accuracy", m.Name())

	m, err = ForTask("", model.Regression)
	require.NoError(t, err)
	assert.Equal(t, "r2", m.Name())

	_, err = ForTask("r2", model.Classification)
	assert.True(t, errors.IsConfigError(err))

	_, err = Lookup("bogus")
	assert.True(t, errors.IsConfigError(err))

	assert.Contains(t, Names(), "neg_log_loss")
}

func TestScoresAreHigherIsBetter(t *testing.T) {
	yTrue := []float64{1, 2, 3, 4}
	good := []float64{1, 2, 3, 4.1}
	bad := []float64{4, 3, 2, 1}
	for _, name := range []string{"r2", "neg_rmse", "neg_mae"} {
		m, err := Lookup(name)
		require.NoError(t, err)
		g, err := m.Score(yTrue, good, nil, 0)
		require.NoError(t, err)
		b, err := m.Score(yTrue, bad, nil, 0)
		require.NoError(t, err)
		assert.Greater(t, g, b, name)
		assert.Less(t, m.Floor(yTrue), 0.0, name)
	}
}

func TestNegLogLossFallsBackToOneHot(t *testing.T) {
	m, err := Lookup("neg_log_loss")
	require.NoError(t, err)
	s, err := m.Score([]float64{0, 1}, []float64{0, 1}, nil, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, s, 1e-9)
	assert.Less(t, m.Floor(nil), -30.0)
}

func TestBaseline(t *testing.T) {
	acc, err := Lookup("accuracy")
	require.NoError(t, err)
	b, err := acc.Baseline([]float64{0, 0, 0, 1}, []float64{0, 1, 0, 0}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, b, 1e-12)

	r2, err := Lookup("r2")
	require.NoError(t, err)
	b, err = r2.Baseline([]float64{1, 2, 3}, []float64{1, 3}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, b, 1e-12)

	auc, err := Lookup("roc_auc")
	require.NoError(t, err)
	b, err = auc.Baseline([]float64{0, 1}, []float64{0, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, b)
}
