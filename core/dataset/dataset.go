// Package dataset provides the immutable tabular input consumed by the
// training pipeline.
//
// A Dataset is a set of equal-length typed columns. Numeric columns use NaN
// for missing values, string columns carry a validity mask and time columns
// treat the zero time as missing. Accessors copy, so a Dataset can be shared
// freely between goroutines once constructed.
package dataset

import (
	"math"
	"strconv"
	"time"

	"github.com/otter-ml/otter/pkg/errors"
)

// Kind is the storage type of a column.
type Kind int

const (
	// Numeric columns hold float64 values, NaN is missing.
	Numeric Kind = iota
	// String columns hold text values with a validity mask.
	String
	// Time columns hold timestamps, the zero time is missing.
	Time
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case String:
		return "string"
	case Time:
		return "datetime"
	default:
		return "unknown"
	}
}

// Column is one named, typed column.
type Column struct {
	name  string
	kind  Kind
	nums  []float64
	strs  []string
	valid []bool
	times []time.Time
}

// NewNumeric creates a numeric column. NaN marks a missing value.
func NewNumeric(name string, values []float64) Column {
	return Column{name: name, kind: Numeric, nums: append([]float64(nil), values...)}
}

// NewString creates a string column. valid may be nil, meaning every value
// is present; otherwise valid[i] == false marks row i as missing.
func NewString(name string, values []string, valid []bool) Column {
	c := Column{name: name, kind: String, strs: append([]string(nil), values...)}
	c.valid = make([]bool, len(values))
	for i := range c.valid {
		c.valid[i] = valid == nil || (i < len(valid) && valid[i])
	}
	return c
}

// NewTime creates a time column. The zero time marks a missing value.
func NewTime(name string, values []time.Time) Column {
	return Column{name: name, kind: Time, times: append([]time.Time(nil), values...)}
}

// Name returns the column name.
func (c Column) Name() string { return c.name }

// Kind returns the column storage type.
func (c Column) Kind() Kind { return c.kind }

// Len returns the number of rows.
func (c Column) Len() int {
	switch c.kind {
	case Numeric:
		return len(c.nums)
	case String:
		return len(c.strs)
	default:
		return len(c.times)
	}
}

// IsNull reports whether row i is missing.
func (c Column) IsNull(i int) bool {
	switch c.kind {
	case Numeric:
		return math.IsNaN(c.nums[i])
	case String:
		return !c.valid[i]
	default:
		return c.times[i].IsZero()
	}
}

// Float returns row i of a numeric column. Other kinds return NaN.
func (c Column) Float(i int) float64 {
	if c.kind != Numeric {
		return math.NaN()
	}
	return c.nums[i]
}

// Str returns row i of a string column, or "" when missing or not a string column.
func (c Column) Str(i int) string {
	if c.kind != String || !c.valid[i] {
		return ""
	}
	return c.strs[i]
}

// Time returns row i of a time column, or the zero time.
func (c Column) Time(i int) time.Time {
	if c.kind != Time {
		return time.Time{}
	}
	return c.times[i]
}

// Text returns the canonical string form of row i and false when missing.
// Numbers use the shortest representation that round-trips.
func (c Column) Text(i int) (string, bool) {
	if c.IsNull(i) {
		return "", false
	}
	switch c.kind {
	case Numeric:
		return strconv.FormatFloat(c.nums[i], 'g', -1, 64), true
	case String:
		return c.strs[i], true
	default:
		return c.times[i].UTC().Format(time.RFC3339Nano), true
	}
}

// Floats returns a copy of a numeric column's values.
func (c Column) Floats() []float64 {
	return append([]float64(nil), c.nums...)
}

// Nulls counts missing rows.
func (c Column) Nulls() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			n++
		}
	}
	return n
}

func (c Column) take(rows []int) Column {
	out := Column{name: c.name, kind: c.kind}
	switch c.kind {
	case Numeric:
		out.nums = make([]float64, len(rows))
		for i, r := range rows {
			out.nums[i] = c.nums[r]
		}
	case String:
		out.strs = make([]string, len(rows))
		out.valid = make([]bool, len(rows))
		for i, r := range rows {
			out.strs[i] = c.strs[r]
			out.valid[i] = c.valid[r]
		}
	default:
		out.times = make([]time.Time, len(rows))
		for i, r := range rows {
			out.times[i] = c.times[r]
		}
	}
	return out
}

// Dataset is an immutable collection of equal-length columns.
type Dataset struct {
	cols  []Column
	index map[string]int
	rows  int
}

// New builds a Dataset. Column names must be unique and non-empty and every
// column must have the same length.
func New(cols ...Column) (*Dataset, error) {
	d := &Dataset{cols: make([]Column, len(cols)), index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if c.name == "" {
			return nil, errors.NewDataError("", "column names must not be empty")
		}
		if _, dup := d.index[c.name]; dup {
			return nil, errors.NewDataError(c.name, "duplicate column name")
		}
		if i == 0 {
			d.rows = c.Len()
		} else if c.Len() != d.rows {
			return nil, errors.NewDataError(c.name, "column length differs from the first column")
		}
		d.index[c.name] = i
		d.cols[i] = c
	}
	return d, nil
}

// Rows returns the number of rows.
func (d *Dataset) Rows() int { return d.rows }

// NumColumns returns the number of columns.
func (d *Dataset) NumColumns() int { return len(d.cols) }

// Names returns the column names in declaration order.
func (d *Dataset) Names() []string {
	names := make([]string, len(d.cols))
	for i, c := range d.cols {
		names[i] = c.name
	}
	return names
}

// Column looks up a column by name.
func (d *Dataset) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.cols[i], true
}

// ColumnAt returns the i-th column.
func (d *Dataset) ColumnAt(i int) Column { return d.cols[i] }

// Take returns a new Dataset holding the given rows in the given order.
func (d *Dataset) Take(rows []int) (*Dataset, error) {
	for _, r := range rows {
		if r < 0 || r >= d.rows {
			return nil, errors.NewDimensionError("Dataset.Take", d.rows, r, 0)
		}
	}
	cols := make([]Column, len(d.cols))
	for i, c := range d.cols {
		cols[i] = c.take(rows)
	}
	return New(cols...)
}
