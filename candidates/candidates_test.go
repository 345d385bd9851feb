package candidates

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"decision_tree", "knn", "logistic_regression", "random_forest", "ridge"}, r.Names())

	names := func(fams []model.Family) []string {
		var out []string
		for _, f := range fams {
			out = append(out, f.Name())
		}
		return out
	}
	assert.Equal(t, []string{"decision_tree", "knn", "logistic_regression", "random_forest"}, names(r.For(model.Classification)))
	assert.Equal(t, []string{"decision_tree", "knn", "random_forest", "ridge"}, names(r.For(model.Regression)))

	f, ok := r.Get("knn")
	require.True(t, ok)
	assert.Equal(t, "knn", f.Name())
}

func TestRegistryOnlyAndDuplicates(t *testing.T) {
	r, err := Default().Only("ridge", "knn")
	require.NoError(t, err)
	assert.Equal(t, []string{"knn", "ridge"}, r.Names())

	_, err = Default().Only("svm")
	assert.True(t, errors.IsConfigError(err))

	_, err = NewRegistry(KNN{}, KNN{})
	assert.True(t, errors.IsConfigError(err))
}

func blobs(n int) (*mat.Dense, []float64, []float64) {
	r := rand.New(rand.NewPCG(4, 2))
	X := mat.NewDense(n, 3, nil)
	cls := make([]float64, n)
	reg := make([]float64, n)
	for i := 0; i < n; i++ {
		c := i % 2
		a := float64(c)*3 + r.NormFloat64()*0.5
		b := r.NormFloat64()
		X.SetRow(i, []float64{a, b, r.NormFloat64()})
		cls[i] = float64(c)
		reg[i] = 2*a + b + r.NormFloat64()*0.1
	}
	return X, cls, reg
}

func TestEveryFamilyFitsItsTasks(t *testing.T) {
	X, cls, reg := blobs(120)
	ctx := context.Background()

	for _, fam := range Default().Families() {
		for _, task := range []model.Task{model.Classification, model.Regression} {
			if !fam.Supports(task) {
				continue
			}
			t.Run(fam.Name()+"/"+string(task), func(t *testing.T) {
				params := fam.Space().Sample(rand.New(rand.NewPCG(1, 1)))
				opt := model.FitOptions{Task: task, Seed: 3, Workers: 2}
				y := reg
				if task == model.Classification {
					y = cls
					opt.NumClasses = 2
				}

				fitted, err := fam.Fit(ctx, X, y, params, opt)
				require.NoError(t, err)
				pred, err := fitted.Predict(X)
				require.NoError(t, err)
				assert.Len(t, pred, 120)
				assert.NotEmpty(t, fitted.FittedParams())

				if task == model.Classification {
					pp, ok := fitted.(model.ProbabilityPredictor)
					require.True(t, ok, "classifiers expose probabilities")
					proba, err := pp.PredictProba(X)
					require.NoError(t, err)
					_, k := proba.Dims()
					assert.Equal(t, 2, k)
				}
			})
		}
	}
}

func TestImportanceReporters(t *testing.T) {
	X, cls, _ := blobs(80)
	ctx := context.Background()
	opt := model.FitOptions{Task: model.Classification, NumClasses: 2, Seed: 1, Workers: 1}

	for _, fam := range []model.Family{Logistic{}, DecisionTree{}, RandomForest{}} {
		fitted, err := fam.Fit(ctx, X, cls, fam.Space().Sample(rand.New(rand.NewPCG(2, 2))), opt)
		require.NoError(t, err)
		ir, ok := fitted.(model.ImportanceReporter)
		require.True(t, ok, fam.Name())
		imp := ir.FeatureImportances()
		require.Len(t, imp, 3)
		assert.Greater(t, imp[0], imp[2], fam.Name())
		assert.Contains(t, []string{"coefficient", "impurity"}, ir.ImportanceMethod())
	}

	fitted, err := KNN{}.Fit(ctx, X, cls, model.Params{"n_neighbors": 3}, opt)
	require.NoError(t, err)
	_, ok := fitted.(model.ImportanceReporter)
	assert.False(t, ok, "knn has no native attribution")
}

func TestFitHonoursCancelledContext(t *testing.T) {
	X, cls, reg := blobs(40)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := KNN{}.Fit(ctx, X, cls, nil, model.FitOptions{Task: model.Classification, NumClasses: 2})
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = Ridge{}.Fit(ctx, X, reg, nil, model.FitOptions{Task: model.Regression})
	assert.True(t, errors.Is(err, context.Canceled))
}
