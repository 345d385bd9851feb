package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/dataset"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

// Role is the inferred purpose of an input column.
type Role string

const (
	RoleNumeric     Role = "numeric"
	RoleCategorical Role = "categorical"
	RoleDatetime    Role = "datetime"
	RoleIdentifier  Role = "identifier"
	RoleConstant    Role = "constant"
	RoleLeakage     Role = "leakage"
)

// Sentinel categories.
const (
	OtherCategory   = "__other__"
	MissingCategory = "__missing__"
)

const secondsPerDay = 86400

// Feature is one output column and the parameters needed to rebuild it.
type Feature struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	// Median imputes missing numeric and datetime values.
	Median float64 `json:"median"`
	// Categories maps an ordinal code (the index) to its category.
	Categories []string `json:"categories,omitempty"`
}

// Dropped records an input column that produced no feature.
type Dropped struct {
	Column string `json:"column"`
	Role   Role   `json:"role"`
	Reason string `json:"reason"`
}

// Target describes the encoded prediction target.
type Target struct {
	Name string     `json:"name"`
	Task model.Task `json:"task"`
	// Classes maps a class index to its label. Empty for regression.
	Classes []string `json:"classes,omitempty"`
	// ExcludedRows are rows skipped because the target was missing.
	ExcludedRows []int `json:"excluded_rows,omitempty"`
}

// FeatureSet is the versioned, read-only description of how a Dataset is
// turned into a feature matrix.
type FeatureSet struct {
	Features []Feature `json:"features"`
	Dropped  []Dropped `json:"dropped"`
	Target   Target    `json:"target"`
	Seed     uint64    `json:"seed"`
	// Version is the hex SHA-256 of MarshalCanonical.
	Version string `json:"version"`

	codes []map[string]int
}

type canonicalFeatureSet struct {
	Features []Feature `json:"features"`
	Dropped  []Dropped `json:"dropped"`
	Target   Target    `json:"target"`
	Seed     uint64    `json:"seed"`
}

// MarshalCanonical returns the deterministic encoding the Version hashes.
func (fs *FeatureSet) MarshalCanonical() ([]byte, error) {
	b, err := json.Marshal(canonicalFeatureSet{
		Features: fs.Features,
		Dropped:  fs.Dropped,
		Target:   fs.Target,
		Seed:     fs.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "features: canonical encoding")
	}
	return b, nil
}

func (fs *FeatureSet) seal() error {
	b, err := fs.MarshalCanonical()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	fs.Version = hex.EncodeToString(sum[:])
	fs.index()
	return nil
}

func (fs *FeatureSet) index() {
	fs.codes = make([]map[string]int, len(fs.Features))
	for i, f := range fs.Features {
		if f.Role != RoleCategorical {
			continue
		}
		m := make(map[string]int, len(f.Categories))
		for code, c := range f.Categories {
			m[c] = code
		}
		fs.codes[i] = m
	}
}

// UnmarshalJSON restores a FeatureSet and its lookup tables.
func (fs *FeatureSet) UnmarshalJSON(b []byte) error {
	type plain FeatureSet
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*fs = FeatureSet(p)
	fs.index()
	return nil
}

// Names returns the output feature names in column order.
func (fs *FeatureSet) Names() []string {
	names := make([]string, len(fs.Features))
	for i, f := range fs.Features {
		names[i] = f.Name
	}
	return names
}

// NumClasses returns the number of target classes, 0 for regression.
func (fs *FeatureSet) NumClasses() int { return len(fs.Target.Classes) }

// Transform encodes every row of ds. Columns not referenced by the
// FeatureSet are ignored; the target column need not be present.
func (fs *FeatureSet) Transform(ds *dataset.Dataset) (*mat.Dense, error) {
	rows := make([]int, ds.Rows())
	for i := range rows {
		rows[i] = i
	}
	return fs.transformRows(ds, rows)
}

// TrainingData encodes the rows whose target is present and returns the
// matrix together with the encoded target.
func (fs *FeatureSet) TrainingData(ds *dataset.Dataset) (*mat.Dense, []float64, error) {
	rows := fs.trainingRows(ds.Rows())
	X, err := fs.transformRows(ds, rows)
	if err != nil {
		return nil, nil, err
	}
	y, err := fs.encodeTarget(ds, rows)
	if err != nil {
		return nil, nil, err
	}
	return X, y, nil
}

func (fs *FeatureSet) trainingRows(n int) []int {
	excluded := make(map[int]bool, len(fs.Target.ExcludedRows))
	for _, r := range fs.Target.ExcludedRows {
		excluded[r] = true
	}
	rows := make([]int, 0, n-len(excluded))
	for i := 0; i < n; i++ {
		if !excluded[i] {
			rows = append(rows, i)
		}
	}
	return rows
}

func (fs *FeatureSet) transformRows(ds *dataset.Dataset, rows []int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.NewDataError("", "dataset is empty")
	}
	if fs.codes == nil {
		fs.index()
	}
	X := mat.NewDense(len(rows), len(fs.Features), nil)
	for j, f := range fs.Features {
		col, ok := ds.Column(f.Name)
		if !ok {
			return nil, errors.NewDataError(f.Name, "feature column missing from dataset")
		}
		switch f.Role {
		case RoleNumeric:
			if col.Kind() != dataset.Numeric {
				return nil, errors.NewDataError(f.Name, "expected a numeric column, got "+col.Kind().String())
			}
			for i, r := range rows {
				v := col.Float(r)
				if math.IsNaN(v) {
					v = f.Median
				}
				X.Set(i, j, v)
			}
		case RoleDatetime:
			if col.Kind() != dataset.Time {
				return nil, errors.NewDataError(f.Name, "expected a datetime column, got "+col.Kind().String())
			}
			for i, r := range rows {
				X.Set(i, j, daysOrMedian(col, r, f.Median))
			}
		case RoleCategorical:
			codes := fs.codes[j]
			for i, r := range rows {
				X.Set(i, j, float64(categoryCode(codes, col, r, len(f.Categories))))
			}
		}
	}
	return X, nil
}

func daysOrMedian(col dataset.Column, r int, median float64) float64 {
	if col.IsNull(r) {
		return median
	}
	return float64(col.Time(r).Unix()) / secondsPerDay
}

// categoryCode maps a raw value to its ordinal code. Unseen values go to
// __other__, then __missing__; when neither exists they get the code n.
func categoryCode(codes map[string]int, col dataset.Column, r, n int) int {
	text, ok := col.Text(r)
	if !ok {
		if c, found := codes[MissingCategory]; found {
			return c
		}
		if c, found := codes[OtherCategory]; found {
			return c
		}
		return n
	}
	if c, found := codes[text]; found {
		return c
	}
	if c, found := codes[OtherCategory]; found {
		return c
	}
	if c, found := codes[MissingCategory]; found {
		return c
	}
	return n
}

func (fs *FeatureSet) encodeTarget(ds *dataset.Dataset, rows []int) ([]float64, error) {
	col, ok := ds.Column(fs.Target.Name)
	if !ok {
		return nil, errors.NewDataError(fs.Target.Name, "target column not found")
	}
	y := make([]float64, len(rows))
	if fs.Target.Task == model.Regression {
		if col.Kind() != dataset.Numeric {
			return nil, errors.NewDataError(fs.Target.Name, "regression target must be numeric")
		}
		for i, r := range rows {
			y[i] = col.Float(r)
			if math.IsNaN(y[i]) {
				return nil, errors.NewDataError(fs.Target.Name, "missing target value in row "+strconv.Itoa(r))
			}
		}
		return y, nil
	}
	index := make(map[string]int, len(fs.Target.Classes))
	for i, c := range fs.Target.Classes {
		index[c] = i
	}
	for i, r := range rows {
		text, ok := col.Text(r)
		if !ok {
			return nil, errors.NewDataError(fs.Target.Name, "missing target value in row "+strconv.Itoa(r))
		}
		c, found := index[text]
		if !found {
			return nil, errors.NewDataError(fs.Target.Name, "unknown class "+strconv.Quote(text))
		}
		y[i] = float64(c)
	}
	return y, nil
}

// DecodeLabel turns one prediction into its label text.
func (fs *FeatureSet) DecodeLabel(v float64) string {
	if fs.Target.Task == model.Classification {
		if c := int(v); c >= 0 && c < len(fs.Target.Classes) {
			return fs.Target.Classes[c]
		}
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
