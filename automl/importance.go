package automl

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/core/parallel"
	"github.com/otter-ml/otter/crossval"
	"github.com/otter-ml/otter/metrics"
	"github.com/otter-ml/otter/pkg/errors"
)

// MethodPermutation labels importances measured by shuffling columns.
const MethodPermutation = "permutation"

type importanceInput struct {
	metric     metrics.Metric
	fitted     model.Fitted
	X          *mat.Dense
	y          []float64
	names      []string
	numClasses int
	repeats    int
	workers    int
	seed       uint64
}

// importance uses the model's native attribution when it has one and
// permutation importance otherwise. The result sums to 1 and is ranked
// from most to least important.
func importance(ctx context.Context, in importanceInput) ([]artifact.Importance, string, error) {
	_, cols := in.X.Dims()
	if ir, ok := in.fitted.(model.ImportanceReporter); ok {
		if raw := ir.FeatureImportances(); len(raw) == cols {
			return rankImportance(in.names, raw), ir.ImportanceMethod(), nil
		}
	}
	raw, err := permutationImportance(ctx, in)
	if err != nil {
		return nil, "", err
	}
	return rankImportance(in.names, raw), MethodPermutation, nil
}

// permutationImportance is the mean drop in the objective over repeats
// shuffles of each column. Every (column, repeat) pair has its own seeded
// stream, so the result does not depend on the worker count.
func permutationImportance(ctx context.Context, in importanceInput) ([]float64, error) {
	base, err := crossval.Score(in.metric, in.fitted, in.X, in.y, in.numClasses)
	if err != nil {
		return nil, errors.Wrap(err, "score unshuffled data")
	}
	rows, cols := in.X.Dims()
	raw := make([]float64, cols)
	errs := make([]error, cols)

	parallel.Parallelize(cols, in.workers, func(start, end int) {
		work := mat.NewDense(rows, cols, nil)
		col := make([]float64, rows)
		for j := start; j < end; j++ {
			if err := ctx.Err(); err != nil {
				errs[j] = err
				continue
			}
			work.Copy(in.X)
			mat.Col(col, j, in.X)
			var drop float64
			for r := 0; r < in.repeats; r++ {
				rng := rand.New(rand.NewPCG(in.seed, uint64(j*in.repeats+r)+1))
				for i, p := range rng.Perm(rows) {
					work.Set(i, j, col[p])
				}
				s, err := crossval.Score(in.metric, in.fitted, work, in.y, in.numClasses)
				if err != nil {
					errs[j] = err
					break
				}
				drop += base - s
			}
			raw[j] = drop / float64(in.repeats)
		}
	})

	for j, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "permute feature %q", in.names[j])
		}
	}
	return raw, nil
}

// rankImportance clamps negative or non-finite values to zero, normalises
// to sum 1 and sorts descending. All-zero input becomes a uniform split.
func rankImportance(names []string, raw []float64) []artifact.Importance {
	vals := make([]float64, len(raw))
	for i, v := range raw {
		if v > 0 && !math.IsInf(v, 0) {
			vals[i] = v
		}
	}
	if total := floats.Sum(vals); total > 0 {
		floats.Scale(1/total, vals)
	} else {
		for i := range vals {
			vals[i] = 1 / float64(len(vals))
		}
	}
	out := make([]artifact.Importance, len(names))
	for i, n := range names {
		out[i] = artifact.Importance{Feature: n, Score: vals[i]}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}
