package search

import (
	"sort"

	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/crossval"
)

// PrunerFactory binds a pruning rule to the state a generation started
// from.
type PrunerFactory interface {
	Bind(st State) crossval.Pruner
}

// MedianPruner stops a trial at fold k when its running mean is below both
// the median running mean of the scored trials at k and the best trial's
// running mean at k. It only acts from fold WarmupFolds on and once
// MinTrials scored trials exist.
type MedianPruner struct {
	WarmupFolds int
	MinTrials   int
}

// NewMedianPruner returns a pruner with warmup 1 and 4 minimum trials.
func NewMedianPruner() MedianPruner {
	return MedianPruner{WarmupFolds: 1, MinTrials: 4}
}

// Bind implements PrunerFactory.
func (p MedianPruner) Bind(st State) crossval.Pruner {
	b := &boundMedian{warmup: p.WarmupFolds}
	var scored []*trial.Trial
	for _, t := range st.History() {
		if t.State == trial.Scored {
			scored = append(scored, t)
		}
	}
	if len(scored) < p.MinTrials || len(scored) == 0 {
		return b
	}
	best, _ := st.Best()
	folds := len(scored[0].FoldScores)
	b.median = make([]float64, folds)
	b.best = make([]float64, folds)
	for k := 0; k < folds; k++ {
		var means []float64
		for _, t := range scored {
			if len(t.FoldScores) > k {
				means = append(means, runningMean(t.FoldScores, k))
			}
		}
		b.median[k] = median(means)
		b.best[k] = runningMean(best.FoldScores, k)
	}
	b.active = true
	return b
}

type boundMedian struct {
	active bool
	warmup int
	median []float64
	best   []float64
}

func (b *boundMedian) Prune(fold int, scores []float64) bool {
	if !b.active || fold < b.warmup || fold >= len(b.median) {
		return false
	}
	m := runningMean(scores, fold)
	return m < b.median[fold] && m < b.best[fold]
}

func runningMean(scores []float64, k int) float64 {
	if k >= len(scores) {
		k = len(scores) - 1
	}
	sum := 0.0
	for _, s := range scores[:k+1] {
		sum += s
	}
	return sum / float64(k+1)
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
