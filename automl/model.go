package automl

import (
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/core/dataset"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/features"
	"github.com/otter-ml/otter/pkg/errors"
)

// TrainedModel is the winner of a run, retrained on all rows. It is never
// modified after Run returns.
type TrainedModel struct {
	artifact artifact.Artifact
	features *features.FeatureSet
	fitted   model.Fitted
	summary  string
	location string
}

// Artifact returns a deep copy of the model's description.
func (m *TrainedModel) Artifact() artifact.Artifact { return m.artifact.Clone() }

// Summary is the plain-language performance explanation.
func (m *TrainedModel) Summary() string { return m.summary }

// Location is where the artifact store saved the artifact, or "".
func (m *TrainedModel) Location() string { return m.location }

// Predict transforms ds with the run's feature set and predicts every row.
// Classification results are class indices; see PredictLabels.
func (m *TrainedModel) Predict(ds *dataset.Dataset) ([]float64, error) {
	X, err := m.features.Transform(ds)
	if err != nil {
		return nil, err
	}
	return m.fitted.Predict(X)
}

// PredictLabels returns class labels for classification and formatted
// values for regression.
func (m *TrainedModel) PredictLabels(ds *dataset.Dataset) ([]string, error) {
	pred, err := m.Predict(ds)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(pred))
	for i, v := range pred {
		if m.artifact.Task == model.Classification {
			out[i] = m.features.DecodeLabel(v)
		} else {
			out[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return out, nil
}

// PredictProba returns per-class probabilities, one column per class in
// Artifact().Classes order.
func (m *TrainedModel) PredictProba(ds *dataset.Dataset) (*mat.Dense, error) {
	pp, ok := m.fitted.(model.ProbabilityPredictor)
	if !ok {
		return nil, errors.NewValidationError("model", "does not predict probabilities", m.artifact.Family)
	}
	X, err := m.features.Transform(ds)
	if err != nil {
		return nil, err
	}
	return pp.PredictProba(X)
}
