package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/pkg/errors"
)

func writeChurnCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("usage_drop,tenure,plan,churn\n")
	plans := []string{"basic", "plus", "pro"}
	for i := 0; i < rows; i++ {
		drop, label := float64((i*37)%19)/10, "no"
		if i%10 < 3 {
			drop += 1.2
			label = "yes"
		}
		fmt.Fprintf(&b, "%.2f,%d,%s,%s\n", drop, (i*13)%48, plans[i%3], label)
	}
	path := filepath.Join(t.TempDir(), "churn.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("OTTER_LOG_LEVEL", "error")
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestProfileCommand(t *testing.T) {
	data := writeChurnCSV(t, 60)

	out, _, err := execute(t, "profile", "--data", data)
	require.NoError(t, err)
	assert.Contains(t, out, "60 rows, 4 columns")
	assert.Contains(t, out, "usage_drop")
	assert.Contains(t, out, "Suggested targets: churn")

	out, _, err = execute(t, "profile", "--data", data, "--json")
	require.NoError(t, err)
	var doc struct {
		Rows      int      `json:"rows"`
		Suggested []string `json:"suggested_targets"`
		Columns   []struct {
			Name string `json:"name"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, 60, doc.Rows)
	assert.Equal(t, []string{"churn"}, doc.Suggested)
	assert.Len(t, doc.Columns, 4)
}

func TestTrainCommand(t *testing.T) {
	data := writeChurnCSV(t, 150)
	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "model.json")
	chartPath := filepath.Join(dir, "importance.png")

	out, progress, err := execute(t, "train",
		"--data", data,
		"--target", "churn",
		"--families", "decision_tree",
		"--max-trials", "3",
		"--folds", "3",
		"--seed", "11",
		"--state-dir", filepath.Join(dir, "state"),
		"--out", artifactPath,
		"--chart", chartPath,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Best model: decision_tree")
	assert.Contains(t, progress, "trial 2 decision_tree")

	raw, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	var a artifact.Artifact
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.Equal(t, "churn", a.Target)
	assert.Equal(t, 3, a.Trials)
	assert.Len(t, a.FoldScores, 3)

	info, err := os.Stat(chartPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// The leaderboard on disk already holds the budget, so a rerun searches
	// nothing new and reports the same winner.
	out2, progress2, err := execute(t, "train",
		"--data", data,
		"--target", "churn",
		"--families", "decision_tree",
		"--max-trials", "3",
		"--folds", "3",
		"--seed", "11",
		"--state-dir", filepath.Join(dir, "state"),
		"--quiet",
	)
	require.NoError(t, err)
	assert.NotContains(t, progress2, "trial 0")
	assert.Contains(t, out2, fmt.Sprintf("(trial %d)", a.TrialID))
}

func TestTrainCommandErrors(t *testing.T) {
	data := writeChurnCSV(t, 40)

	_, _, err := execute(t, "train", "--data", data)
	require.Error(t, err, "target is required")

	_, _, err = execute(t, "train", "--data", data, "--target", "missing", "--max-trials", "2")
	require.Error(t, err)
	assert.True(t, errors.IsDataError(err))
	assert.Equal(t, 1, exitCode(err))

	_, _, err = execute(t, "train", "--data", data, "--target", "churn", "--sampler", "grid")
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.Equal(t, 2, exitCode(err))
}

func TestExitCode(t *testing.T) {
	cancelled := errors.NewRunAbortedError(errors.AbortCancelled, 2, nil)
	assert.Equal(t, 130, exitCode(cancelled))
	assert.Equal(t, 1, exitCode(errors.NewRunAbortedError(errors.AbortNoValidModel, 3, nil)))
}
