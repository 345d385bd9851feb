package report

import (
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/pkg/errors"
)

// ImportanceChart builds a horizontal bar chart of the top features, the
// most important at the top.
func ImportanceChart(a artifact.Artifact, top int) (*plot.Plot, error) {
	if len(a.Importance) == 0 {
		return nil, errors.NewValidationError("importance", "nothing to plot", 0)
	}
	top = barCount(a, top)
	values := make(plotter.Values, top)
	names := make([]string, top)
	for i, imp := range a.Importance[:top] {
		// plotter draws index 0 at the bottom.
		values[top-1-i] = imp.Score
		names[top-1-i] = imp.Feature
	}

	p := plot.New()
	p.Title.Text = "Feature importance: " + a.Family
	p.X.Label.Text = "share of attribution"
	if a.ImportanceMethod != "" {
		p.X.Label.Text += " (" + a.ImportanceMethod + ")"
	}
	p.X.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(14))
	if err != nil {
		return nil, errors.Wrap(err, "build bar chart")
	}
	bars.Horizontal = true
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalY(names...)
	return p, nil
}

func barCount(a artifact.Artifact, top int) int {
	if top <= 0 || top > len(a.Importance) {
		return len(a.Importance)
	}
	return top
}

// WriteImportanceChart saves the chart to path; the extension (.png, .svg,
// .pdf) picks the format.
func WriteImportanceChart(path string, a artifact.Artifact, top int) error {
	p, err := ImportanceChart(a, top)
	if err != nil {
		return err
	}
	height := vg.Length(barCount(a, top))*vg.Points(22) + 2*vg.Inch
	return errors.Wrapf(p.Save(6*vg.Inch, height, path), "save chart %s", path)
}

// RenderImportanceChart writes the chart to w in format ("png", "svg", ...).
func RenderImportanceChart(w io.Writer, format string, a artifact.Artifact, top int) error {
	p, err := ImportanceChart(a, top)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return errors.Wrapf(err, "encode chart as %s", format)
	}
	_, err = wt.WriteTo(w)
	return errors.WithStack(err)
}
