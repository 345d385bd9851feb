// Package features infers column roles, imputes and encodes a Dataset into
// a versioned FeatureSet, and filters columns that leak the target.
package features

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/otter-ml/otter/core/dataset"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
)

// Default heuristics.
const (
	DefaultIDThreshold      = 0.95
	DefaultMinRowsForID     = 20
	DefaultMaxCategories    = 32
	DefaultLeakageThreshold = 0.98
	// MaxClassificationLevels is the largest number of distinct integer
	// values a numeric target may have and still be treated as classes.
	MaxClassificationLevels = 20
)

var (
	leakSuffixes = []string{"_id", "_label", "_encoded", "_enc", "_code", "_pred", "_prediction"}
	leakPrefixes = []string{"pred_", "predicted_", "encoded_"}
)

// Engineer builds FeatureSets.
type Engineer struct {
	task             model.Task
	idThreshold      float64
	minRowsForID     int
	maxCategories    int
	leakageThreshold float64
	seed             uint64
	logger           log.Logger
}

// Option configures an Engineer.
type Option func(*Engineer)

// WithTask forces the task instead of inferring it.
func WithTask(task model.Task) Option {
	return func(e *Engineer) { e.task = task }
}

// WithIDThreshold sets the unique-ratio above which a column is treated as an identifier.
func WithIDThreshold(v float64) Option {
	return func(e *Engineer) { e.idThreshold = v }
}

// WithMaxCategories caps the categories kept per categorical column.
func WithMaxCategories(n int) Option {
	return func(e *Engineer) { e.maxCategories = n }
}

// WithLeakageThreshold sets the |correlation| and purity cut-off.
func WithLeakageThreshold(v float64) Option {
	return func(e *Engineer) { e.leakageThreshold = v }
}

// WithSeed records the run seed in the FeatureSet.
func WithSeed(seed uint64) Option {
	return func(e *Engineer) { e.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engineer) { e.logger = l }
}

// NewEngineer returns an Engineer with the default heuristics.
func NewEngineer(opts ...Option) *Engineer {
	e := &Engineer{
		task:             model.Auto,
		idThreshold:      DefaultIDThreshold,
		minRowsForID:     DefaultMinRowsForID,
		maxCategories:    DefaultMaxCategories,
		leakageThreshold: DefaultLeakageThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Component("features")
	}
	return e
}

// Validate checks the heuristics.
func (e *Engineer) Validate() error {
	if e.idThreshold <= 0 || e.idThreshold > 1 {
		return errors.NewConfigError("features.id_threshold", "must be in (0, 1]", e.idThreshold)
	}
	if e.maxCategories < 1 {
		return errors.NewConfigError("features.max_categories", "must be at least 1", e.maxCategories)
	}
	if e.leakageThreshold <= 0 || e.leakageThreshold > 1 {
		return errors.NewConfigError("features.leakage_threshold", "must be in (0, 1]", e.leakageThreshold)
	}
	if _, err := model.ParseTask(string(e.task)); err != nil {
		return err
	}
	return nil
}

// Fit infers roles from ds and returns the FeatureSet for predicting target.
func (e *Engineer) Fit(ds *dataset.Dataset, target string) (*FeatureSet, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if ds == nil || ds.Rows() == 0 {
		return nil, errors.NewDataError("", "dataset is empty")
	}
	tcol, ok := ds.Column(target)
	if !ok {
		return nil, errors.NewDataError(target, "target column not found")
	}

	tgt, err := e.describeTarget(tcol)
	if err != nil {
		return nil, err
	}
	fs := &FeatureSet{Target: tgt, Seed: e.seed, Dropped: []Dropped{}, Features: []Feature{}}
	rows := fs.trainingRows(ds.Rows())
	y, err := fs.encodeTarget(ds, rows)
	if err != nil {
		return nil, err
	}

	for i := 0; i < ds.NumColumns(); i++ {
		col := ds.ColumnAt(i)
		if col.Name() == target {
			continue
		}
		f, drop := e.inferFeature(col, rows)
		if drop != nil {
			fs.Dropped = append(fs.Dropped, *drop)
			continue
		}
		if reason := e.leakage(col, f, target, rows, y, tgt.Task); reason != "" {
			fs.Dropped = append(fs.Dropped, Dropped{Column: col.Name(), Role: RoleLeakage, Reason: reason})
			continue
		}
		fs.Features = append(fs.Features, *f)
	}

	if len(fs.Features) == 0 {
		return nil, errors.NewDataError("", "no usable feature columns after role inference")
	}
	if err := fs.seal(); err != nil {
		return nil, err
	}

	for _, d := range fs.Dropped {
		e.logger.Debug("column dropped", log.ColumnKey, d.Column, log.ReasonKey, d.Reason)
	}
	e.logger.Info("feature set built",
		log.TaskKey, string(tgt.Task),
		log.SamplesKey, len(rows),
		log.FeaturesKey, len(fs.Features),
		"features.dropped", len(fs.Dropped),
		log.VersionKey, fs.Version,
	)
	return fs, nil
}

func (e *Engineer) describeTarget(col dataset.Column) (Target, error) {
	tgt := Target{Name: col.Name(), ExcludedRows: []int{}}
	distinct := make(map[string]struct{})
	integral := true
	for i := 0; i < col.Len(); i++ {
		text, ok := col.Text(i)
		if !ok {
			tgt.ExcludedRows = append(tgt.ExcludedRows, i)
			continue
		}
		distinct[text] = struct{}{}
		if col.Kind() == dataset.Numeric && col.Float(i) != math.Trunc(col.Float(i)) {
			integral = false
		}
	}
	if len(tgt.ExcludedRows) == col.Len() {
		return tgt, errors.NewDataError(col.Name(), "target column has no values")
	}
	if len(distinct) < 2 {
		return tgt, errors.NewDataError(col.Name(), "target column is constant")
	}

	task := e.task
	if task == model.Auto {
		switch {
		case col.Kind() == dataset.String:
			task = model.Classification
		case col.Kind() == dataset.Numeric && integral && len(distinct) <= MaxClassificationLevels:
			task = model.Classification
		default:
			task = model.Regression
		}
	}
	if task == model.Regression && col.Kind() != dataset.Numeric {
		return tgt, errors.NewDataError(col.Name(), "regression target must be numeric")
	}
	tgt.Task = task
	if task == model.Classification {
		for c := range distinct {
			tgt.Classes = append(tgt.Classes, c)
		}
		sort.Strings(tgt.Classes)
	}
	return tgt, nil
}

func (e *Engineer) inferFeature(col dataset.Column, rows []int) (*Feature, *Dropped) {
	counts := make(map[string]int)
	nonNull := 0
	integral := true
	for _, r := range rows {
		text, ok := col.Text(r)
		if !ok {
			continue
		}
		nonNull++
		counts[text]++
		if col.Kind() == dataset.Numeric && col.Float(r) != math.Trunc(col.Float(r)) {
			integral = false
		}
	}

	if len(counts) <= 1 {
		return nil, &Dropped{Column: col.Name(), Role: RoleConstant, Reason: "constant column"}
	}
	uniqueRatio := float64(len(counts)) / float64(nonNull)
	idLike := len(rows) >= e.minRowsForID && uniqueRatio >= e.idThreshold
	switch col.Kind() {
	case dataset.String:
		if idLike {
			return nil, &Dropped{Column: col.Name(), Role: RoleIdentifier, Reason: "near-unique identifier-like column"}
		}
		return &Feature{Name: col.Name(), Role: RoleCategorical, Categories: e.categories(counts, nonNull < len(rows))}, nil
	case dataset.Numeric:
		if idLike && integral {
			return nil, &Dropped{Column: col.Name(), Role: RoleIdentifier, Reason: "near-unique integer identifier-like column"}
		}
		vals := make([]float64, 0, nonNull)
		for _, r := range rows {
			if v := col.Float(r); !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		return &Feature{Name: col.Name(), Role: RoleNumeric, Median: median(vals)}, nil
	default:
		vals := make([]float64, 0, nonNull)
		for _, r := range rows {
			if !col.IsNull(r) {
				vals = append(vals, float64(col.Time(r).Unix())/secondsPerDay)
			}
		}
		return &Feature{Name: col.Name(), Role: RoleDatetime, Median: median(vals)}, nil
	}
}

// categories orders by frequency desc then lexicographically and keeps at
// most maxCategories, collapsing the rest into __other__.
func (e *Engineer) categories(counts map[string]int, hasMissing bool) []string {
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > e.maxCategories {
		cats = append(cats[:e.maxCategories:e.maxCategories], OtherCategory)
	}
	if hasMissing {
		cats = append(cats, MissingCategory)
	}
	return cats
}

func (e *Engineer) leakage(col dataset.Column, f *Feature, target string, rows []int, y []float64, task model.Task) string {
	if derivesFromName(col.Name(), target) {
		return "leakage: name derives from target"
	}

	tmp := &FeatureSet{Features: []Feature{*f}}
	tmp.index()
	x := make([]float64, len(rows))
	single, err := dataset.New(col)
	if err != nil {
		return ""
	}
	X, err := tmp.transformRows(single, rows)
	if err != nil {
		return ""
	}
	for i := range x {
		x[i] = X.At(i, 0)
	}

	if stat.StdDev(x, nil) > 0 && stat.StdDev(y, nil) > 0 {
		if r := stat.Correlation(x, y, nil); math.Abs(r) >= e.leakageThreshold {
			return "leakage: |correlation| with target >= threshold"
		}
	}

	if task == model.Classification && f.Role == RoleCategorical {
		k := len(f.Categories)
		if k >= 2 && k <= len(rows)/10 && categoryPurity(x, y) >= e.leakageThreshold {
			return "leakage: categories determine the target"
		}
	}
	return ""
}

// categoryPurity is the share of rows whose category's majority class equals
// their own class.
func categoryPurity(codes, y []float64) float64 {
	byCode := make(map[float64]map[float64]int)
	for i, c := range codes {
		if byCode[c] == nil {
			byCode[c] = make(map[float64]int)
		}
		byCode[c][y[i]]++
	}
	agree := 0
	for _, classes := range byCode {
		best := 0
		for _, n := range classes {
			if n > best {
				best = n
			}
		}
		agree += best
	}
	return float64(agree) / float64(len(codes))
}

func derivesFromName(column, target string) bool {
	c, t := strings.ToLower(column), strings.ToLower(target)
	for _, s := range leakSuffixes {
		if c == t+s {
			return true
		}
	}
	for _, p := range leakPrefixes {
		if c == p+t {
			return true
		}
	}
	return false
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
