package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otter-ml/otter/core/dataset"
)

func TestProfile(t *testing.T) {
	ds, err := dataset.New(
		dataset.NewNumeric("amount", []float64{1, 2, math.NaN(), 5}),
		dataset.NewString("tier", []string{"gold", "gold", "silver", ""}, []bool{true, true, true, false}),
	)
	require.NoError(t, err)

	profiles := Profile(ds)
	require.Len(t, profiles, 2)

	amount := profiles[0]
	assert.Equal(t, "numeric", amount.Kind)
	assert.Equal(t, 1, amount.Nulls)
	assert.Equal(t, 25.0, amount.NullPct)
	assert.Equal(t, 3, amount.Unique)
	require.NotNil(t, amount.Median)
	assert.Equal(t, 2.0, *amount.Median)
	assert.Equal(t, 1.0, *amount.Min)
	assert.Equal(t, 5.0, *amount.Max)

	tier := profiles[1]
	assert.Nil(t, tier.Mean)
	assert.Equal(t, []ValueCount{{Value: "gold", Count: 2}, {Value: "silver", Count: 1}}, tier.TopValues)
}

func TestSuggestTargetsByName(t *testing.T) {
	ds, err := dataset.New(
		dataset.NewNumeric("tenure", []float64{1, 2, 3}),
		dataset.NewString("city", []string{"a", "b", "c"}, nil),
		dataset.NewString("Churn", []string{"y", "n", "y"}, nil),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"Churn"}, SuggestTargets(ds))
}

func TestSuggestTargetsByCardinality(t *testing.T) {
	n := 200
	x := make([]float64, n)
	flag := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		flag[i] = float64(i % 3)
	}
	ds, err := dataset.New(dataset.NewNumeric("x", x), dataset.NewNumeric("flag", flag))
	require.NoError(t, err)
	assert.Equal(t, []string{"flag"}, SuggestTargets(ds))
}
