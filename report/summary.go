// Package report turns a trained-model artifact into plain-language text
// and an importance chart.
package report

import (
	"fmt"
	"strings"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/metrics"
)

// DefaultTopFeatures is how many features the summary names.
const DefaultTopFeatures = 3

// Summarize describes the winning model, its cross-validated score against
// the trivial baseline and the features that drive it.
func Summarize(a artifact.Artifact, top int) string {
	if top <= 0 {
		top = DefaultTopFeatures
	}
	var b strings.Builder

	fmt.Fprintf(&b, "Best model: %s (trial %d) predicting %q as %s", a.Family, a.TrialID, a.Target, a.Task)
	if a.Task == model.Classification && len(a.Classes) > 0 {
		fmt.Fprintf(&b, " over %d classes", len(a.Classes))
	}
	b.WriteString(".\n")

	fmt.Fprintf(&b, "Cross-validated %s: %.4f ± %.4f across %d folds; %.4f on the full data.\n",
		a.Metric, a.CVMean, a.CVStd, len(a.FoldScores), a.FullScore)

	desc := ""
	if m, err := metrics.Lookup(a.Metric); err == nil {
		desc = m.Description()
	}
	b.WriteString(interpret(a.Metric, a.CVMean, a.Baseline))
	if desc != "" {
		fmt.Fprintf(&b, " (%s: %s)", a.Metric, desc)
	}
	b.WriteString(".\n")

	if len(a.Importance) > 0 {
		n := min(top, len(a.Importance))
		parts := make([]string, n)
		for i, imp := range a.Importance[:n] {
			parts[i] = fmt.Sprintf("%s (%.1f%%)", imp.Feature, imp.Score*100)
		}
		fmt.Fprintf(&b, "Top features: %s.\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "Searched %d trials; stopped by %s.", a.Trials, strings.ReplaceAll(a.Stop, "_", " "))
	return b.String()
}

// interpret compares a higher-is-better score with the baseline.
func interpret(metric string, score, baseline float64) string {
	gain := score - baseline
	if gain <= 0 {
		return fmt.Sprintf("The model does not beat the trivial baseline of %.4f", baseline)
	}
	switch metric {
	case "accuracy", "f1", "roc_auc", "r2":
		return fmt.Sprintf("This is a %s result, %.4f above the trivial baseline of %.4f", quality(score), gain, baseline)
	default:
		rel := 0.0
		if baseline != 0 {
			rel = gain / -baseline
		}
		return fmt.Sprintf("Error is %.1f%% lower than the trivial baseline (%.4f vs %.4f)", rel*100, score, baseline)
	}
}

func quality(score float64) string {
	switch {
	case score >= 0.9:
		return "strong"
	case score >= 0.75:
		return "good"
	case score >= 0.6:
		return "moderate"
	default:
		return "weak"
	}
}
