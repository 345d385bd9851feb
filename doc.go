// Package otter is an automated training pipeline for tabular data.
//
// Given a dataset and a target column, otter profiles the columns, engineers
// a numeric feature matrix, searches candidate model families and their
// hyperparameters under a trial or time budget, scores every candidate with
// stratified k-fold cross-validation and refits the winner on all rows. The
// result is a model artifact plus a plain-language summary that compares the
// cross-validated score with a trivial baseline and names the features that
// drive the predictions.
//
// # Packages
//
//   - automl: the orchestrator that runs one training job end to end
//   - features: column profiling, leakage checks and feature engineering
//   - search: the generation-based scheduler, samplers and pruning
//   - crossval: fold splitting and per-trial training
//   - leaderboard: the ordered record of trials with memory, file and Redis stores
//   - candidates, linear, tree, neighbors: the model families searched
//   - metrics: scoring functions, all oriented so higher is better
//   - artifact, report: the trained-model record, its stores and its summary
//   - config: YAML, environment and flag configuration through viper
//
// # Quick Start
//
//	ds, err := dataset.New(
//	    dataset.NewNumeric("usage_drop", usage),
//	    dataset.NewString("plan", plans, nil),
//	    dataset.NewString("churn", labels, nil),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := automl.DefaultConfig()
//	cfg.MaxTrials = 40
//	model, err := automl.New(cfg).Run(ctx, ds, "churn")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(model.Summary())
//
// The otter command wraps the same pipeline for CSV files:
//
//	otter train --data customers.csv --target churn --max-trials 40
//
// # Errors
//
// Failures are classified in pkg/errors. DataError and ConfigError are
// raised before any search starts, TrialError is attached to the failed
// trial and never aborts a run, and RunAbortedError reports a run that
// produced no model, whether cancelled or out of valid candidates.
package otter
