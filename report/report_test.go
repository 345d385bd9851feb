package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/core/model"
)

func churn() artifact.Artifact {
	return artifact.Artifact{
		TrialID:    4,
		Family:     "random_forest",
		Task:       model.Classification,
		Target:     "churn",
		Classes:    []string{"no", "yes"},
		Metric:     "accuracy",
		FoldScores: []float64{0.9, 0.92, 0.91, 0.93, 0.89},
		CVMean:     0.91,
		CVStd:      0.016,
		FullScore:  0.97,
		Baseline:   0.7,
		Importance: []artifact.Importance{
			{Feature: "tenure", Score: 0.5},
			{Feature: "contract", Score: 0.3},
			{Feature: "charges", Score: 0.15},
			{Feature: "region", Score: 0.05},
		},
		ImportanceMethod: "impurity",
		Trials:           10,
		Stop:             "budget",
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(churn(), 0)
	assert.Contains(t, s, `random_forest (trial 4) predicting "churn" as classification over 2 classes`)
	assert.Contains(t, s, "accuracy: 0.9100 ± 0.0160 across 5 folds")
	assert.Contains(t, s, "strong result, 0.2100 above the trivial baseline of 0.7000")
	assert.Contains(t, s, "Top features: tenure (50.0%), contract (30.0%), charges (15.0%).")
	assert.NotContains(t, s, "region")
	assert.Contains(t, s, "Searched 10 trials; stopped by budget.")
}

func TestSummarizeLossAndNoGain(t *testing.T) {
	a := churn()
	a.Task = model.Regression
	a.Metric = "neg_rmse"
	a.CVMean = -2
	a.Baseline = -8
	a.Stop = "early_stopping"
	s := Summarize(a, 1)
	assert.Contains(t, s, "Error is 75.0% lower than the trivial baseline")
	assert.Contains(t, s, "Top features: tenure (50.0%).")
	assert.Contains(t, s, "stopped by early stopping")

	a.CVMean = -9
	assert.Contains(t, Summarize(a, 1), "does not beat the trivial baseline")
}

func TestImportanceChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importance.png")
	require.NoError(t, WriteImportanceChart(path, churn(), 3))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	var buf bytes.Buffer
	require.NoError(t, RenderImportanceChart(&buf, "svg", churn(), 0))
	assert.Contains(t, buf.String(), "<svg")

	_, err = ImportanceChart(artifact.Artifact{}, 3)
	assert.Error(t, err)
}
