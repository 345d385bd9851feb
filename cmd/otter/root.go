package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "otter",
		Short: "otter - automated model training for tabular data",
		Long: `otter turns a CSV file and a target column into a validated model with a
plain-language explanation of how well it performs.

Commands:
  train    - Search candidate models and train the best one
  profile  - Describe each column and suggest targets

Example:
  otter profile --data customers.csv
  otter train --data customers.csv --target churn --max-trials 40
  otter train --data customers.csv --target churn --state-dir .otter --out model.json`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCmd())
	root.AddCommand(newProfileCmd())
	return root
}
