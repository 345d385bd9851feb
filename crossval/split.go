// Package crossval splits rows into folds and scores one trial across them.
package crossval

import (
	"math/rand/v2"
	"sort"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

// DefaultFolds is the fold count used when none is configured.
const DefaultFolds = 5

// Fold holds one partition's row indices. Both slices are sorted.
type Fold struct {
	Train []int `json:"train"`
	Test  []int `json:"test"`
}

// Splitter assigns rows to folds. y is the encoded target.
type Splitter interface {
	Split(y []float64) ([]Fold, error)
	NumFolds() int
}

// KFold shuffles rows with a seeded PCG and cuts them into K contiguous
// blocks whose sizes differ by at most one.
type KFold struct {
	K    int
	Seed uint64
}

// NumFolds returns K.
func (kf KFold) NumFolds() int { return kf.K }

// Split partitions len(y) rows.
func (kf KFold) Split(y []float64) ([]Fold, error) {
	n := len(y)
	if err := checkFolds(kf.K, n); err != nil {
		return nil, err
	}
	idx := permutation(n, kf.Seed)
	assign := make([]int, n)
	size, rem := n/kf.K, n%kf.K
	pos := 0
	for f := 0; f < kf.K; f++ {
		m := size
		if f < rem {
			m++
		}
		for _, r := range idx[pos : pos+m] {
			assign[r] = f
		}
		pos += m
	}
	return buildFolds(assign, kf.K), nil
}

// StratifiedKFold keeps every class's per-fold count within one sample of
// its share. The fold that receives a class's remainder rotates from class
// to class so total fold sizes stay balanced too.
type StratifiedKFold struct {
	K    int
	Seed uint64
}

// NumFolds returns K.
func (skf StratifiedKFold) NumFolds() int { return skf.K }

// Split partitions len(y) rows, grouping by the class value in y.
func (skf StratifiedKFold) Split(y []float64) ([]Fold, error) {
	n := len(y)
	if err := checkFolds(skf.K, n); err != nil {
		return nil, err
	}

	byClass := make(map[float64][]int)
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	r := rand.New(rand.NewPCG(skf.Seed, skf.Seed^0x5bd1e995))
	assign := make([]int, n)
	start := 0
	for _, c := range classes {
		rows := byClass[c]
		r.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		size, rem := len(rows)/skf.K, len(rows)%skf.K
		pos := 0
		for step := 0; step < skf.K; step++ {
			f := (start + step) % skf.K
			m := size
			if step < rem {
				m++
			}
			for _, row := range rows[pos : pos+m] {
				assign[row] = f
			}
			pos += m
		}
		start = (start + rem) % skf.K
	}
	return buildFolds(assign, skf.K), nil
}

// NewSplitter returns a stratified splitter for classification and a plain
// one otherwise.
func NewSplitter(task model.Task, k int, seed uint64) Splitter {
	if k == 0 {
		k = DefaultFolds
	}
	if task == model.Classification {
		return StratifiedKFold{K: k, Seed: seed}
	}
	return KFold{K: k, Seed: seed}
}

func checkFolds(k, n int) error {
	if k < 2 {
		return errors.NewConfigError("cv.folds", "must be at least 2", k)
	}
	if n < k {
		return errors.NewDataError("", "fewer rows than cross-validation folds")
	}
	return nil
}

func permutation(n int, seed uint64) []int {
	return rand.New(rand.NewPCG(seed, seed^0x5bd1e995)).Perm(n)
}

func buildFolds(assign []int, k int) []Fold {
	folds := make([]Fold, k)
	for row, f := range assign {
		folds[f].Test = append(folds[f].Test, row)
	}
	for f := range folds {
		folds[f].Train = make([]int, 0, len(assign)-len(folds[f].Test))
		for row, g := range assign {
			if g != f {
				folds[f].Train = append(folds[f].Train, row)
			}
		}
	}
	return folds
}
