package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otter-ml/otter/features"
)

type profileOptions struct {
	data   string
	asJSON bool
}

func newProfileCmd() *cobra.Command {
	opts := &profileOptions{}
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Describe each column and suggest prediction targets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProfile(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.data, "data", "", "CSV file to profile")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runProfile(cmd *cobra.Command, opts *profileOptions) error {
	ds, err := loadCSV(opts.data)
	if err != nil {
		return err
	}
	profiles := features.Profile(ds)
	suggested := features.SuggestTargets(ds)

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"rows":              ds.Rows(),
			"columns":           profiles,
			"suggested_targets": suggested,
		})
	}

	fmt.Fprintf(out, "%d rows, %d columns\n\n", ds.Rows(), ds.NumColumns())
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tKIND\tNULLS\tUNIQUE\tSUMMARY")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%d (%.1f%%)\t%d\t%s\n", p.Name, p.Kind, p.Nulls, p.NullPct, p.Unique, describe(p))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(suggested) > 0 {
		fmt.Fprintf(out, "\nSuggested targets: %s\n", strings.Join(suggested, ", "))
	}
	return nil
}

func describe(p features.ColumnProfile) string {
	if p.Mean != nil {
		return fmt.Sprintf("min %.4g, median %.4g, max %.4g", *p.Min, *p.Median, *p.Max)
	}
	parts := make([]string, len(p.TopValues))
	for i, v := range p.TopValues {
		parts[i] = fmt.Sprintf("%s (%d)", v.Value, v.Count)
	}
	return strings.Join(parts, ", ")
}
