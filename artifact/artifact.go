// Package artifact defines the logical content of a trained model and the
// stores that keep it.
package artifact

import (
	"context"
	"time"

	"github.com/otter-ml/otter/core/model"
)

// Importance is one feature's share of the model's attribution.
type Importance struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Artifact is everything a downstream consumer needs to know about the
// winning model. Stores persist it; they do not interpret it.
type Artifact struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	TrialID           int          `json:"trial_id"`
	Family            string       `json:"family"`
	Params            model.Params `json:"params"`
	Task              model.Task   `json:"task"`
	Target            string       `json:"target"`
	Classes           []string     `json:"classes,omitempty"`
	FeatureSetVersion string       `json:"feature_set_version"`
	Features          []string     `json:"features"`

	Metric     string    `json:"metric"`
	FoldScores []float64 `json:"fold_scores"`
	CVMean     float64   `json:"cv_mean"`
	CVStd      float64   `json:"cv_std"`
	FullScore  float64   `json:"full_score"`
	// Baseline is the trivial predictor's score on the same data.
	Baseline float64 `json:"baseline"`

	FittedParams     map[string]any `json:"fitted_params"`
	Importance       []Importance   `json:"importance"`
	ImportanceMethod string         `json:"importance_method"`

	// Trials is the leaderboard size when the run finished.
	Trials int    `json:"trials"`
	Stop   string `json:"stop"`
}

// Clone returns a deep copy.
func (a Artifact) Clone() Artifact {
	c := a
	c.Params = a.Params.Clone()
	c.Classes = append([]string(nil), a.Classes...)
	c.Features = append([]string(nil), a.Features...)
	c.FoldScores = append([]float64(nil), a.FoldScores...)
	c.Importance = append([]Importance(nil), a.Importance...)
	if a.FittedParams != nil {
		c.FittedParams = make(map[string]any, len(a.FittedParams))
		for k, v := range a.FittedParams {
			c.FittedParams[k] = cloneValue(v)
		}
	}
	return c
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...)
	case []int:
		return append([]int(nil), x...)
	case []string:
		return append([]string(nil), x...)
	case [][]float64:
		out := make([][]float64, len(x))
		for i := range x {
			out[i] = append([]float64(nil), x[i]...)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Store saves and loads artifacts by run id.
type Store interface {
	// Save returns a human-readable location of the stored artifact.
	Save(ctx context.Context, a Artifact) (string, error)
	Load(ctx context.Context, runID string) (Artifact, error)
}
