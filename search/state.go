// Package search proposes hyperparameter configurations and schedules their
// evaluation under a budget.
//
// Progress is carried in an immutable State value. Every method that
// advances the search returns a new State, so a snapshot taken at the start
// of a generation stays valid while workers run, and the same seed plus the
// same history always yields the same proposals.
package search

import (
	"encoding/json"
	"sort"

	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/pkg/errors"
)

// State is the search history plus proposal bookkeeping.
type State struct {
	seed             uint64
	nextID           int
	history          []*trial.Trial
	bestID           int
	sinceImprovement int
}

// NewState starts an empty search.
func NewState(seed uint64) State {
	return State{seed: seed, bestID: -1}
}

// Seed returns the run seed.
func (s State) Seed() uint64 { return s.seed }

// NextID is the id the next reserved trial will get.
func (s State) NextID() int { return s.nextID }

// Completed counts recorded trials.
func (s State) Completed() int { return len(s.history) }

// SinceImprovement counts trials recorded since the best Scored mean last
// improved.
func (s State) SinceImprovement() int { return s.sinceImprovement }

// History returns the recorded trials in id order. Trials are immutable.
func (s State) History() []*trial.Trial {
	return append([]*trial.Trial(nil), s.history...)
}

// Best returns the Scored trial with the highest mean; ties go to the lowest
// id.
func (s State) Best() (*trial.Trial, bool) {
	if s.bestID < 0 {
		return nil, false
	}
	for _, t := range s.history {
		if t.ID == s.bestID {
			return t, true
		}
	}
	return nil, false
}

// Reserve allocates n trial ids. Reserved ids are never handed out again,
// even when the trials using them are abandoned.
func (s State) Reserve(n int) (State, []int) {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = s.nextID + i
	}
	s.nextID += n
	return s, ids
}

// Record adds a completed trial. Trials must be recorded in id order for the
// improvement counter to be reproducible.
func (s State) Record(t *trial.Trial) State {
	history := make([]*trial.Trial, len(s.history), len(s.history)+1)
	copy(history, s.history)
	s.history = append(history, t)
	if len(s.history) > 1 && s.history[len(s.history)-2].ID > t.ID {
		sort.Slice(s.history, func(i, j int) bool { return s.history[i].ID < s.history[j].ID })
	}
	if t.ID >= s.nextID {
		s.nextID = t.ID + 1
	}

	best, ok := s.Best()
	if t.State == trial.Scored && (!ok || t.Mean > best.Mean || (t.Mean == best.Mean && t.ID < best.ID)) {
		improved := !ok || t.Mean > best.Mean
		s.bestID = t.ID
		if improved {
			s.sinceImprovement = 0
			return s
		}
	}
	s.sinceImprovement++
	return s
}

// Rebuild reconstructs a State from persisted trials. nextID is the
// checkpointed reservation counter; ids below it are never reused.
func Rebuild(seed uint64, nextID int, trials []*trial.Trial) State {
	sorted := append([]*trial.Trial(nil), trials...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	s := NewState(seed)
	for _, t := range sorted {
		s = s.Record(t)
	}
	if nextID > s.nextID {
		s.nextID = nextID
	}
	return s
}

type stateJSON struct {
	Seed             uint64         `json:"seed"`
	NextID           int            `json:"next_id"`
	BestID           int            `json:"best_id"`
	SinceImprovement int            `json:"since_improvement"`
	History          []*trial.Trial `json:"history"`
}

// MarshalJSON encodes the full state for checkpointing.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		Seed:             s.seed,
		NextID:           s.nextID,
		BestID:           s.bestID,
		SinceImprovement: s.sinceImprovement,
		History:          s.history,
	})
}

// UnmarshalJSON restores a checkpointed state.
func (s *State) UnmarshalJSON(b []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "decode search state")
	}
	*s = State{
		seed:             raw.Seed,
		nextID:           raw.NextID,
		history:          raw.History,
		bestID:           raw.BestID,
		sinceImprovement: raw.SinceImprovement,
	}
	return nil
}

// Resume rebuilds the search from a checkpoint and the trials persisted
// since. The persisted trials are authoritative; the checkpoint contributes
// the reservation counter. A nil checkpoint starts from seed.
func Resume(seed uint64, checkpoint []byte, persisted []*trial.Trial) (State, error) {
	nextID := 0
	if len(checkpoint) > 0 {
		var cp State
		if err := json.Unmarshal(checkpoint, &cp); err != nil {
			return State{}, err
		}
		if cp.seed != seed {
			return State{}, errors.NewConfigError("seed", "does not match the checkpointed run", seed)
		}
		nextID = cp.nextID
	}
	return Rebuild(seed, nextID, persisted), nil
}
