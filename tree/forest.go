package tree

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/parallel"
	"github.com/otter-ml/otter/pkg/errors"
)

// ForestConfig holds random forest hyperparameters.
type ForestConfig struct {
	Tree      Config
	NumTrees  int
	Bootstrap bool

	// Workers bounds tree-level parallelism. 0 means runtime.NumCPU().
	Workers int
}

// Forest is a bagged ensemble of trees.
type Forest struct {
	cfg   ForestConfig
	trees []*Tree
}

// MaxFeatures resolves a feature-sampling rule for p features:
// "sqrt", "log2", "third" or "all".
func MaxFeatures(rule string, p int) int {
	var k float64
	switch rule {
	case "sqrt":
		k = math.Sqrt(float64(p))
	case "log2":
		k = math.Log2(float64(p))
	case "third":
		k = float64(p) / 3
	default:
		return 0
	}
	return max(1, int(math.Round(k)))
}

// FitForest grows cfg.NumTrees trees in parallel. Each tree gets its own
// seed derived from cfg.Tree.Seed and its index, so the forest does not
// depend on scheduling.
func FitForest(ctx context.Context, X mat.Matrix, y []float64, cfg ForestConfig) (*Forest, error) {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	if len(y) != n {
		return nil, errors.NewDimensionError("tree.FitForest", n, len(y), 0)
	}
	if cfg.NumTrees < 1 {
		return nil, errors.NewValidationError("n_estimators", "must be at least 1", cfg.NumTrees)
	}

	cols := toColumns(X)
	f := &Forest{cfg: cfg, trees: make([]*Tree, cfg.NumTrees)}

	var (
		mu       sync.Mutex
		firstErr error
	)
	parallel.Parallelize(cfg.NumTrees, cfg.Workers, func(start, end int) {
		for i := start; i < end; i++ {
			tcfg := cfg.Tree
			tcfg.Seed = cfg.Tree.Seed*1_000_003 + uint64(i) + 1
			rows := bootstrapRows(n, cfg.Bootstrap, tcfg.Seed)

			t, err := fitColumns(ctx, cols, y, rows, tcfg)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			f.trees[i] = t
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return f, nil
}

func bootstrapRows(n int, bootstrap bool, seed uint64) []int {
	rows := make([]int, n)
	if !bootstrap {
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	r := rand.New(rand.NewPCG(seed, 0xda3e39cb94b95bdb))
	for i := range rows {
		rows[i] = r.IntN(n)
	}
	return rows
}

// Predict averages tree outputs: probabilities for classifiers, values for
// regressors.
func (f *Forest) Predict(X mat.Matrix) ([]float64, error) {
	if f.cfg.Tree.NumClasses > 0 {
		proba, err := f.PredictProba(X)
		if err != nil {
			return nil, err
		}
		n, _ := proba.Dims()
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(argmax(proba.RawRowView(i)))
		}
		return out, nil
	}

	var out []float64
	for _, t := range f.trees {
		pred, err := t.Predict(X)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make([]float64, len(pred))
		}
		for i, v := range pred {
			out[i] += v / float64(len(f.trees))
		}
	}
	return out, nil
}

// PredictProba averages the trees' class distributions.
func (f *Forest) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	var out *mat.Dense
	for _, t := range f.trees {
		p, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = p
			continue
		}
		out.Add(out, p)
	}
	out.Scale(1/float64(len(f.trees)), out)
	return out, nil
}

// FeatureImportances averages the trees' normalised importances.
func (f *Forest) FeatureImportances() []float64 {
	var out []float64
	for _, t := range f.trees {
		imp := t.FeatureImportances()
		if out == nil {
			out = make([]float64, len(imp))
		}
		for j, v := range imp {
			out[j] += v / float64(len(f.trees))
		}
	}
	return normalise(out)
}

// NumTrees returns the ensemble size.
func (f *Forest) NumTrees() int { return len(f.trees) }

// MeanDepth returns the average tree depth.
func (f *Forest) MeanDepth() float64 {
	var sum float64
	for _, t := range f.trees {
		sum += float64(t.Depth())
	}
	return sum / float64(len(f.trees))
}
