// Package trial defines the record of one evaluated hyperparameter
// configuration.
package trial

import (
	"time"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

// State is the lifecycle position of a trial.
type State string

const (
	Pending  State = "pending"
	Running  State = "running"
	Scored   State = "scored"
	Failed   State = "failed"
	Degraded State = "degraded"
)

// Completed reports whether s is terminal.
func (s State) Completed() bool {
	return s == Scored || s == Failed || s == Degraded
}

// FoldError records why one fold did not produce a real score.
type FoldError struct {
	Fold    int                   `json:"fold"`
	Kind    errors.TrialErrorKind `json:"kind"`
	Message string                `json:"message"`
}

// Cause is the primary reason a trial is not Scored.
type Cause struct {
	Kind    errors.TrialErrorKind `json:"kind"`
	Message string                `json:"message"`
}

// Trial is one configuration of one family evaluated under cross-validation.
// Completed trials are immutable; use Clone before changing a copy.
type Trial struct {
	ID                int          `json:"id"`
	Family            string       `json:"family"`
	Params            model.Params `json:"params"`
	State             State        `json:"state"`
	FeatureSetVersion string       `json:"feature_set_version"`
	Metric            string       `json:"metric"`
	// FoldScores has one entry per attempted fold. Failed folds hold the
	// metric's floor score.
	FoldScores []float64   `json:"fold_scores"`
	FoldErrors []FoldError `json:"fold_errors,omitempty"`
	Mean       float64     `json:"mean"`
	Std        float64     `json:"std"`
	Pruned     bool        `json:"pruned,omitempty"`
	Cause      *Cause      `json:"cause,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	FinishedAt time.Time   `json:"finished_at"`
}

// New creates a pending trial.
func New(id int, family string, params model.Params) *Trial {
	return &Trial{ID: id, Family: family, Params: params.Clone(), State: Pending}
}

// Clone returns a deep copy.
func (t *Trial) Clone() *Trial {
	if t == nil {
		return nil
	}
	c := *t
	c.Params = t.Params.Clone()
	c.FoldScores = append([]float64(nil), t.FoldScores...)
	c.FoldErrors = append([]FoldError(nil), t.FoldErrors...)
	if t.Cause != nil {
		cause := *t.Cause
		c.Cause = &cause
	}
	return &c
}

// SucceededFolds counts folds that produced a real score.
func (t *Trial) SucceededFolds() int {
	return len(t.FoldScores) - len(t.FoldErrors)
}

// Duration returns the wall-clock evaluation time.
func (t *Trial) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// Err returns the trial's cause as a TrialError, or nil for a Scored trial.
func (t *Trial) Err() error {
	if t.Cause == nil {
		return nil
	}
	fold := -1
	if len(t.FoldErrors) > 0 && t.Cause.Kind == t.FoldErrors[0].Kind && t.Cause.Message == t.FoldErrors[0].Message {
		fold = t.FoldErrors[0].Fold
	}
	return errors.NewTrialError(t.ID, fold, t.Cause.Kind, errors.New(t.Cause.Message))
}
