package automl

import (
	"github.com/otter-ml/otter/core/trial"
)

// Stage is the orchestrator's position in a run.
type Stage string

const (
	StageInitializing       Stage = "initializing"
	StageFeatureEngineering Stage = "feature_engineering"
	StageSearching          Stage = "searching"
	StageFinalizing         Stage = "finalizing"
	StageDone               Stage = "done"
	StageAborted            Stage = "aborted"
)

var transitions = map[Stage][]Stage{
	StageInitializing:       {StageFeatureEngineering, StageAborted},
	StageFeatureEngineering: {StageSearching, StageAborted},
	StageSearching:          {StageFinalizing, StageAborted},
	StageFinalizing:         {StageDone, StageAborted},
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool { return len(transitions[s]) == 0 }

// CanAdvance reports whether s may move to next.
func (s Stage) CanAdvance(next Stage) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Progress is a snapshot emitted on every stage change and after every
// recorded trial.
type Progress struct {
	RunID string
	Stage Stage
	// Fraction estimates completion in [0, 1] from the trial budget, or from
	// the time budget when no trial limit is set.
	Fraction  float64
	Completed int
	// Total is the trial limit, zero when only a time budget applies.
	Total     int
	BestScore float64
	HasBest   bool
	// Trial is the trial just recorded; nil on stage changes.
	Trial *trial.Trial
}
