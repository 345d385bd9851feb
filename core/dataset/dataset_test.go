package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otter-ml/otter/pkg/errors"
)

func TestNewValidatesColumns(t *testing.T) {
	_, err := New(NewNumeric("a", []float64{1, 2}), NewNumeric("b", []float64{1}))
	require.Error(t, err)
	assert.True(t, errors.IsDataError(err))

	_, err = New(NewNumeric("a", []float64{1}), NewString("a", []string{"x"}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column name")

	_, err = New(NewNumeric("", nil))
	require.Error(t, err)
}

func TestColumnAccessorsAndNulls(t *testing.T) {
	when := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ds, err := New(
		NewNumeric("age", []float64{31, math.NaN(), 40}),
		NewString("city", []string{"Oslo", "", "Rome"}, []bool{true, false, true}),
		NewTime("signup", []time.Time{when, {}, when.AddDate(0, 0, 1)}),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Rows())
	assert.Equal(t, []string{"age", "city", "signup"}, ds.Names())

	age, ok := ds.Column("age")
	require.True(t, ok)
	assert.Equal(t, Numeric, age.Kind())
	assert.Equal(t, 1, age.Nulls())
	text, ok := age.Text(0)
	assert.True(t, ok)
	assert.Equal(t, "31", text)

	city, _ := ds.Column("city")
	assert.True(t, city.IsNull(1))
	assert.Equal(t, "Rome", city.Str(2))
	assert.Equal(t, "", city.Str(1))

	signup, _ := ds.Column("signup")
	assert.True(t, signup.IsNull(1))
	assert.Equal(t, when, signup.Time(0))

	_, ok = ds.Column("missing")
	assert.False(t, ok)
}

func TestColumnsAreCopied(t *testing.T) {
	values := []float64{1, 2, 3}
	ds, err := New(NewNumeric("x", values))
	require.NoError(t, err)

	values[0] = 100
	col, _ := ds.Column("x")
	assert.Equal(t, 1.0, col.Float(0))

	out := col.Floats()
	out[1] = 100
	assert.Equal(t, 2.0, col.Float(1))
}

func TestTake(t *testing.T) {
	ds, err := New(
		NewNumeric("x", []float64{10, 20, 30}),
		NewString("s", []string{"a", "b", "c"}, nil),
	)
	require.NoError(t, err)

	sub, err := ds.Take([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Rows())
	x, _ := sub.Column("x")
	assert.Equal(t, 30.0, x.Float(0))
	s, _ := sub.Column("s")
	assert.Equal(t, "a", s.Str(1))

	_, err = ds.Take([]int{3})
	assert.Error(t, err)
}
