package features

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/dataset"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
)

const testRows = 60

func customerDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	r := rand.New(rand.NewPCG(1, 2))
	ids := make([]string, testRows)
	age := make([]float64, testRows)
	plan := make([]string, testRows)
	planValid := make([]bool, testRows)
	signup := make([]time.Time, testRows)
	region := make([]string, testRows)
	churn := make([]string, testRows)
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < testRows; i++ {
		ids[i] = fmt.Sprintf("cust-%04d", i)
		age[i] = 20 + r.Float64()*40
		if i%10 == 3 {
			age[i] = math.NaN()
		}
		plan[i] = []string{"basic", "pro", "enterprise"}[i%3]
		planValid[i] = i%7 != 0
		signup[i] = base.AddDate(0, 0, r.IntN(365))
		region[i] = "emea"
		churn[i] = "no"
		if r.Float64() < 0.4 {
			churn[i] = "yes"
		}
	}
	ds, err := dataset.New(
		dataset.NewString("customer_id", ids, nil),
		dataset.NewNumeric("age", age),
		dataset.NewString("plan", plan, planValid),
		dataset.NewTime("signup", signup),
		dataset.NewString("region", region, nil),
		dataset.NewString("churn", churn, nil),
	)
	require.NoError(t, err)
	return ds
}

func newTestEngineer(opts ...Option) *Engineer {
	return NewEngineer(append([]Option{WithLogger(log.Nop())}, opts...)...)
}

func TestFitIsDeterministic(t *testing.T) {
	ds := customerDataset(t)

	a, err := newTestEngineer(WithSeed(42)).Fit(ds, "churn")
	require.NoError(t, err)
	b, err := newTestEngineer(WithSeed(42)).Fit(ds, "churn")
	require.NoError(t, err)

	ca, err := a.MarshalCanonical()
	require.NoError(t, err)
	cb, err := b.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Equal(t, a.Version, b.Version)
	assert.Len(t, a.Version, 64)
	assert.LessOrEqual(t, len(a.Features), ds.NumColumns()-1)

	c, err := newTestEngineer(WithSeed(7)).Fit(ds, "churn")
	require.NoError(t, err)
	assert.NotEqual(t, a.Version, c.Version, "seed is part of the version")
}

func TestRoleInference(t *testing.T) {
	fs, err := newTestEngineer().Fit(customerDataset(t), "churn")
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "plan", "signup"}, fs.Names())
	roles := map[string]Role{}
	for _, f := range fs.Features {
		roles[f.Name] = f.Role
	}
	assert.Equal(t, RoleNumeric, roles["age"])
	assert.Equal(t, RoleCategorical, roles["plan"])
	assert.Equal(t, RoleDatetime, roles["signup"])

	dropped := map[string]Role{}
	for _, d := range fs.Dropped {
		dropped[d.Column] = d.Role
	}
	assert.Equal(t, RoleIdentifier, dropped["customer_id"])
	assert.Equal(t, RoleConstant, dropped["region"])

	assert.Equal(t, model.Classification, fs.Target.Task)
	assert.Equal(t, []string{"no", "yes"}, fs.Target.Classes)
}

func TestTransformImputesAndEncodes(t *testing.T) {
	ds := customerDataset(t)
	fs, err := newTestEngineer().Fit(ds, "churn")
	require.NoError(t, err)

	X, y, err := fs.TrainingData(ds)
	require.NoError(t, err)
	rows, cols := X.Dims()
	assert.Equal(t, testRows, rows)
	assert.Equal(t, 3, cols)
	assert.Len(t, y, testRows)

	age := fs.Features[0]
	assert.Equal(t, age.Median, X.At(3, 0), "missing age is imputed with the median")

	plan := fs.Features[1]
	assert.Equal(t, MissingCategory, plan.Categories[len(plan.Categories)-1])
	assert.Equal(t, float64(len(plan.Categories)-1), X.At(0, 1), "row 0 has a missing plan")

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			assert.False(t, math.IsNaN(X.At(i, j)))
		}
	}
}

func TestMaxCategoriesAndUnseenValues(t *testing.T) {
	n := 100
	city := make([]string, n)
	y := make([]float64, n)
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		city[i] = fmt.Sprintf("c%d", i%8)
		y[i] = float64(i % 2)
		x[i] = float64((i * 37) % 11)
	}
	ds, err := dataset.New(
		dataset.NewString("city", city, nil),
		dataset.NewNumeric("x", x),
		dataset.NewNumeric("y", y),
	)
	require.NoError(t, err)

	fs, err := newTestEngineer(WithMaxCategories(3), WithTask(model.Classification)).Fit(ds, "y")
	require.NoError(t, err)
	require.Equal(t, "city", fs.Features[0].Name)
	cats := fs.Features[0].Categories
	assert.Len(t, cats, 4)
	assert.Equal(t, OtherCategory, cats[3])

	unseen, err := dataset.New(
		dataset.NewString("city", []string{"atlantis"}, nil),
		dataset.NewNumeric("x", []float64{1}),
	)
	require.NoError(t, err)
	X, err := fs.Transform(unseen)
	require.NoError(t, err)
	assert.Equal(t, 3.0, X.At(0, 0))
}

func TestLeakageFilter(t *testing.T) {
	n := 80
	r := rand.New(rand.NewPCG(3, 4))
	price := make([]float64, n)
	noisy := make([]float64, n)
	copyCol := make([]float64, n)
	encoded := make([]float64, n)
	for i := 0; i < n; i++ {
		price[i] = 100 + r.NormFloat64()*20
		noisy[i] = r.NormFloat64()
		copyCol[i] = price[i]*2 + 1
		encoded[i] = r.NormFloat64()
	}
	ds, err := dataset.New(
		dataset.NewNumeric("noise", noisy),
		dataset.NewNumeric("price_doubled", copyCol),
		dataset.NewNumeric("price_encoded", encoded),
		dataset.NewNumeric("price", price),
	)
	require.NoError(t, err)

	fs, err := newTestEngineer().Fit(ds, "price")
	require.NoError(t, err)
	assert.Equal(t, model.Regression, fs.Target.Task)
	assert.Equal(t, []string{"noise"}, fs.Names())

	reasons := map[string]string{}
	for _, d := range fs.Dropped {
		assert.Equal(t, RoleLeakage, d.Role)
		reasons[d.Column] = d.Reason
	}
	assert.Contains(t, reasons["price_doubled"], "correlation")
	assert.Contains(t, reasons["price_encoded"], "name")
}

func TestCategoryPurityLeak(t *testing.T) {
	n := 100
	segment := make([]string, n)
	label := make([]string, n)
	other := make([]float64, n)
	for i := 0; i < n; i++ {
		seg := i % 4
		segment[i] = fmt.Sprintf("s%d", seg)
		label[i] = []string{"a", "b", "c", "a"}[seg]
		other[i] = float64((i * 13) % 17)
	}
	ds, err := dataset.New(
		dataset.NewString("segment", segment, nil),
		dataset.NewNumeric("other", other),
		dataset.NewString("label", label, nil),
	)
	require.NoError(t, err)

	fs, err := newTestEngineer().Fit(ds, "label")
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, fs.Names())
	require.Len(t, fs.Dropped, 1)
	assert.Equal(t, "segment", fs.Dropped[0].Column)
}

func TestMissingTargetRowsExcluded(t *testing.T) {
	y := []float64{1.5, math.NaN(), 2.5, 3.5, math.NaN(), 4.25}
	x := []float64{1, 2, 3, 4, 5, 7}
	ds, err := dataset.New(dataset.NewNumeric("x", x), dataset.NewNumeric("y", y))
	require.NoError(t, err)

	fs, err := newTestEngineer().Fit(ds, "y")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, fs.Target.ExcludedRows)

	X, target, err := fs.TrainingData(ds)
	require.NoError(t, err)
	rows, _ := X.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 4.25}, target)
	assert.Equal(t, 7.0, X.At(3, 0))
}

func TestTaskInference(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	tests := []struct {
		name   string
		target dataset.Column
		force  model.Task
		want   model.Task
	}{
		{"integer levels", dataset.NewNumeric("y", []float64{0, 1, 2, 0, 1, 2}), model.Auto, model.Classification},
		{"continuous", dataset.NewNumeric("y", []float64{0.5, 1.1, 2.3, 0.2, 1.9, 2.7}), model.Auto, model.Regression},
		{"strings", dataset.NewString("y", []string{"a", "b", "a", "b", "a", "b"}, nil), model.Auto, model.Classification},
		{"forced regression", dataset.NewNumeric("y", []float64{0, 1, 2, 0, 1, 2}), model.Regression, model.Regression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := dataset.New(dataset.NewNumeric("x", x), tt.target)
			require.NoError(t, err)
			fs, err := newTestEngineer(WithTask(tt.force), WithLeakageThreshold(1)).Fit(ds, "y")
			require.NoError(t, err)
			assert.Equal(t, tt.want, fs.Target.Task)
		})
	}
}

func TestFitDataErrors(t *testing.T) {
	empty, err := dataset.New(dataset.NewNumeric("x", nil), dataset.NewNumeric("y", nil))
	require.NoError(t, err)
	constant, err := dataset.New(dataset.NewNumeric("x", []float64{1, 2, 3}), dataset.NewNumeric("y", []float64{4, 4, 4}))
	require.NoError(t, err)
	noFeatures, err := dataset.New(dataset.NewNumeric("x", []float64{1, 1, 1}), dataset.NewNumeric("y", []float64{1, 2, 3}))
	require.NoError(t, err)

	tests := []struct {
		name   string
		ds     *dataset.Dataset
		target string
		msg    string
	}{
		{"empty dataset", empty, "y", "dataset is empty"},
		{"missing target", constant, "label", "target column not found"},
		{"constant target", constant, "y", "target column is constant"},
		{"no usable features", noFeatures, "y", "no usable feature columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestEngineer().Fit(tt.ds, tt.target)
			require.Error(t, err)
			assert.True(t, errors.IsDataError(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestInvalidHeuristicsAreConfigErrors(t *testing.T) {
	ds := customerDataset(t)
	_, err := newTestEngineer(WithMaxCategories(0)).Fit(ds, "churn")
	assert.True(t, errors.IsConfigError(err))
	_, err = newTestEngineer(WithLeakageThreshold(1.5)).Fit(ds, "churn")
	assert.True(t, errors.IsConfigError(err))
}

func TestFeatureSetJSONRoundTripTransforms(t *testing.T) {
	ds := customerDataset(t)
	fs, err := newTestEngineer().Fit(ds, "churn")
	require.NoError(t, err)

	raw, err := json.Marshal(fs)
	require.NoError(t, err)
	var restored FeatureSet
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, fs.Version, restored.Version)

	want, err := fs.Transform(ds)
	require.NoError(t, err)
	got, err := restored.Transform(ds)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
	assert.Equal(t, "yes", restored.DecodeLabel(1))
}
