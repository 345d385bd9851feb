// Package tree implements CART decision trees and bagged random forests for
// classification and regression.
package tree

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/pkg/errors"
)

// Criterion selects the impurity measure.
type Criterion string

const (
	Gini     Criterion = "gini"
	Entropy  Criterion = "entropy"
	Variance Criterion = "variance"
)

// Config holds tree hyperparameters.
type Config struct {
	// NumClasses > 0 grows a classifier over class indices, 0 a regressor.
	NumClasses int
	Criterion  Criterion
	// MaxDepth limits depth (root depth = 0). 0 means no limit.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features sampled per split. 0 means all.
	MaxFeatures int
	Seed        uint64
}

func (c Config) withDefaults() Config {
	if c.Criterion == "" {
		c.Criterion = Gini
		if c.NumClasses == 0 {
			c.Criterion = Variance
		}
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	return c
}

// node is a flat-array tree node. Leaves have left == -1.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	n         int
	// value is the class distribution for classifiers, or [mean] for regressors.
	value []float64
}

// Tree is a fitted decision tree.
type Tree struct {
	cfg         Config
	nodes       []node
	importances []float64
	nFeatures   int
	depth       int
}

// columns is a column-major copy of the training matrix.
type columns [][]float64

func toColumns(X mat.Matrix) columns {
	n, p := X.Dims()
	cols := make(columns, p)
	for j := range cols {
		cols[j] = mat.Col(make([]float64, n), j, X)
	}
	return cols
}

// Fit grows a tree on all rows of X.
func Fit(ctx context.Context, X mat.Matrix, y []float64, cfg Config) (*Tree, error) {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	if len(y) != n {
		return nil, errors.NewDimensionError("tree.Fit", n, len(y), 0)
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return fitColumns(ctx, toColumns(X), y, rows, cfg)
}

func fitColumns(ctx context.Context, cols columns, y []float64, rows []int, cfg Config) (*Tree, error) {
	cfg = cfg.withDefaults()
	if cfg.NumClasses == 1 {
		return nil, errors.NewValidationError("NumClasses", "classifier needs at least two classes", 1)
	}
	for _, r := range rows {
		if cfg.NumClasses > 0 && (y[r] < 0 || int(y[r]) >= cfg.NumClasses) {
			return nil, errors.NewValidationError("y", "class index out of range", y[r])
		}
	}
	b := &builder{
		ctx:  ctx,
		cols: cols,
		y:    y,
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, 0x9e3779b97f4a7c15)),
		tree: &Tree{cfg: cfg, nFeatures: len(cols), importances: make([]float64, len(cols))},
	}
	if _, err := b.grow(append([]int(nil), rows...), 0); err != nil {
		return nil, err
	}
	return b.tree, nil
}

type builder struct {
	ctx  context.Context
	cols columns
	y    []float64
	cfg  Config
	rng  *rand.Rand
	tree *Tree
}

func (b *builder) grow(rows []int, depth int) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, errors.WithStack(err)
	}
	if depth > b.tree.depth {
		b.tree.depth = depth
	}

	id := len(b.tree.nodes)
	value := b.leafValue(rows)
	b.tree.nodes = append(b.tree.nodes, node{left: -1, right: -1, n: len(rows), value: value})

	if len(rows) < b.cfg.MinSamplesSplit || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return id, nil
	}
	parent := b.impurity(rows)
	if parent <= 0 {
		return id, nil
	}

	s, ok := b.bestSplit(rows, parent)
	if !ok {
		return id, nil
	}

	var left, right []int
	for _, r := range rows {
		if b.cols[s.feature][r] <= s.threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	b.tree.importances[s.feature] += s.decrease

	l, err := b.grow(left, depth+1)
	if err != nil {
		return 0, err
	}
	r, err := b.grow(right, depth+1)
	if err != nil {
		return 0, err
	}
	nd := &b.tree.nodes[id]
	nd.feature, nd.threshold, nd.left, nd.right = s.feature, s.threshold, l, r
	return id, nil
}

type split struct {
	feature   int
	threshold float64
	// decrease is n*parent - nL*left - nR*right
	decrease float64
}

func (b *builder) candidateFeatures() []int {
	p := len(b.cols)
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	if b.cfg.MaxFeatures > 0 && b.cfg.MaxFeatures < p {
		b.rng.Shuffle(p, func(i, j int) { features[i], features[j] = features[j], features[i] })
		features = features[:b.cfg.MaxFeatures]
		sort.Ints(features)
	}
	return features
}

func (b *builder) bestSplit(rows []int, parent float64) (split, bool) {
	n := len(rows)
	best := split{decrease: 1e-12}
	found := false
	sorted := make([]int, n)

	for _, f := range b.candidateFeatures() {
		col := b.cols[f]
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return col[sorted[i]] < col[sorted[j]] })

		acc := b.newAccumulator(sorted)
		for i := 0; i < n-1; i++ {
			acc.move(b.y[sorted[i]])
			nl := i + 1
			if nl < b.cfg.MinSamplesLeaf || n-nl < b.cfg.MinSamplesLeaf {
				continue
			}
			lo, hi := col[sorted[i]], col[sorted[i+1]]
			if lo == hi {
				continue
			}
			left, right := acc.impurities(b.cfg.Criterion)
			dec := float64(n)*parent - float64(nl)*left - float64(n-nl)*right
			if dec > best.decrease {
				best = split{feature: f, threshold: lo + (hi-lo)/2, decrease: dec}
				found = true
			}
		}
	}
	return best, found
}

func (b *builder) leafValue(rows []int) []float64 {
	if b.cfg.NumClasses == 0 {
		var sum float64
		for _, r := range rows {
			sum += b.y[r]
		}
		return []float64{sum / float64(len(rows))}
	}
	dist := make([]float64, b.cfg.NumClasses)
	for _, r := range rows {
		dist[int(b.y[r])]++
	}
	for c := range dist {
		dist[c] /= float64(len(rows))
	}
	return dist
}

func (b *builder) impurity(rows []int) float64 {
	acc := b.newAccumulator(rows)
	for _, r := range rows {
		acc.move(b.y[r])
	}
	left, _ := acc.impurities(b.cfg.Criterion)
	return left
}

// accumulator tracks running left/right statistics while sweeping a sorted
// feature. All rows start on the right.
type accumulator struct {
	classes   bool
	lCounts   []float64
	rCounts   []float64
	nl, nr    float64
	sumL, sqL float64
	sumR, sqR float64
}

func (b *builder) newAccumulator(rows []int) *accumulator {
	acc := &accumulator{classes: b.cfg.NumClasses > 0, nr: float64(len(rows))}
	if acc.classes {
		acc.lCounts = make([]float64, b.cfg.NumClasses)
		acc.rCounts = make([]float64, b.cfg.NumClasses)
		for _, r := range rows {
			acc.rCounts[int(b.y[r])]++
		}
		return acc
	}
	for _, r := range rows {
		acc.sumR += b.y[r]
		acc.sqR += b.y[r] * b.y[r]
	}
	return acc
}

func (a *accumulator) move(v float64) {
	a.nl++
	a.nr--
	if a.classes {
		a.lCounts[int(v)]++
		a.rCounts[int(v)]--
		return
	}
	a.sumL += v
	a.sqL += v * v
	a.sumR -= v
	a.sqR -= v * v
}

func (a *accumulator) impurities(c Criterion) (float64, float64) {
	if !a.classes {
		return variance(a.sumL, a.sqL, a.nl), variance(a.sumR, a.sqR, a.nr)
	}
	if c == Entropy {
		return entropy(a.lCounts, a.nl), entropy(a.rCounts, a.nr)
	}
	return gini(a.lCounts, a.nl), gini(a.rCounts, a.nr)
}

func variance(sum, sq, n float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / n
	return math.Max(sq/n-mean*mean, 0)
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func entropy(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c > 0 {
			p := c / n
			h -= p * math.Log2(p)
		}
	}
	return h
}

func (t *Tree) leaf(row []float64) []float64 {
	i := 0
	for t.nodes[i].left >= 0 {
		nd := t.nodes[i]
		if row[nd.feature] <= nd.threshold {
			i = nd.left
		} else {
			i = nd.right
		}
	}
	return t.nodes[i].value
}

func (t *Tree) checkDims(op string, X mat.Matrix) (int, error) {
	n, p := X.Dims()
	if p != t.nFeatures {
		return 0, errors.NewDimensionError(op, t.nFeatures, p, 1)
	}
	return n, nil
}

// Predict returns class indices for classifiers and values for regressors.
func (t *Tree) Predict(X mat.Matrix) ([]float64, error) {
	n, err := t.checkDims("Tree.Predict", X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	row := make([]float64, t.nFeatures)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		v := t.leaf(row)
		if t.cfg.NumClasses == 0 {
			out[i] = v[0]
		} else {
			out[i] = float64(argmax(v))
		}
	}
	return out, nil
}

// PredictProba returns leaf class distributions. Classifiers only.
func (t *Tree) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if t.cfg.NumClasses == 0 {
		return nil, errors.New("tree: PredictProba on a regression tree")
	}
	n, err := t.checkDims("Tree.PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(n, t.cfg.NumClasses, nil)
	row := make([]float64, t.nFeatures)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, t.leaf(row))
	}
	return out, nil
}

// FeatureImportances returns impurity decrease per feature normalised to sum 1.
func (t *Tree) FeatureImportances() []float64 {
	return normalise(t.importances)
}

// NodeCount returns the number of nodes.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// Depth returns the depth of the deepest leaf.
func (t *Tree) Depth() int { return t.depth }

// Leaves counts leaf nodes.
func (t *Tree) Leaves() int {
	n := 0
	for _, nd := range t.nodes {
		if nd.left < 0 {
			n++
		}
	}
	return n
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func normalise(v []float64) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
