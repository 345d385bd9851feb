package features

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/otter-ml/otter/core/dataset"
)

// ValueCount is one entry of a column's most frequent values.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnProfile summarises one column.
type ColumnProfile struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Nulls   int     `json:"nulls"`
	NullPct float64 `json:"null_pct"`
	Unique  int     `json:"unique"`
	// Numeric columns only.
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
	Median *float64 `json:"median,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	// String columns only, at most five.
	TopValues []ValueCount `json:"top_values,omitempty"`
}

var targetHints = []string{
	"target", "label", "class", "churn", "outcome", "result",
	"price", "sales", "revenue", "predict", "status",
}

// Profile computes per-column statistics in column order.
func Profile(ds *dataset.Dataset) []ColumnProfile {
	out := make([]ColumnProfile, 0, ds.NumColumns())
	for i := 0; i < ds.NumColumns(); i++ {
		col := ds.ColumnAt(i)
		p := ColumnProfile{Name: col.Name(), Kind: col.Kind().String(), Nulls: col.Nulls()}
		if col.Len() > 0 {
			p.NullPct = math.Round(float64(p.Nulls)/float64(col.Len())*1000) / 10
		}

		counts := make(map[string]int)
		var vals []float64
		for r := 0; r < col.Len(); r++ {
			text, ok := col.Text(r)
			if !ok {
				continue
			}
			counts[text]++
			if col.Kind() == dataset.Numeric {
				vals = append(vals, col.Float(r))
			}
		}
		p.Unique = len(counts)

		switch col.Kind() {
		case dataset.Numeric:
			if len(vals) > 0 {
				sorted := append([]float64(nil), vals...)
				sort.Float64s(sorted)
				lo, hi := sorted[0], sorted[len(sorted)-1]
				mean, std := stat.MeanStdDev(vals, nil)
				med := median(sorted)
				if len(vals) < 2 {
					std = 0
				}
				p.Min, p.Max, p.Mean, p.Median, p.Std = &lo, &hi, &mean, &med, &std
			}
		case dataset.String:
			p.TopValues = topValues(counts, 5)
		}
		out = append(out, p)
	}
	return out
}

func topValues(counts map[string]int, n int) []ValueCount {
	vc := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		vc = append(vc, ValueCount{Value: v, Count: c})
	}
	sort.Slice(vc, func(i, j int) bool {
		if vc[i].Count != vc[j].Count {
			return vc[i].Count > vc[j].Count
		}
		return vc[i].Value < vc[j].Value
	})
	if len(vc) > n {
		vc = vc[:n]
	}
	return vc
}

// SuggestTargets lists columns that look like prediction targets: names
// containing a common target hint (or exactly "y"), otherwise low-cardinality
// columns with fewer than 5% unique values and at most 20 distinct values.
func SuggestTargets(ds *dataset.Dataset) []string {
	var out []string
	for _, name := range ds.Names() {
		lower := strings.ToLower(name)
		if lower == "y" {
			out = append(out, name)
			continue
		}
		for _, hint := range targetHints {
			if strings.Contains(lower, hint) {
				out = append(out, name)
				break
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	rows := ds.Rows()
	if rows == 0 {
		return nil
	}
	for _, p := range Profile(ds) {
		if float64(p.Unique)/float64(rows) < 0.05 && p.Unique <= MaxClassificationLevels {
			out = append(out, p.Name)
		}
	}
	return out
}
