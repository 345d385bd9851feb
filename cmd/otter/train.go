package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/otter-ml/otter/automl"
	"github.com/otter-ml/otter/config"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/telemetry"
	"github.com/otter-ml/otter/report"
)

type trainOptions struct {
	data       string
	target     string
	configPath string
	stateDir   string
	out        string
	chart      string
	quiet      bool
}

// runFlags maps command-line flags onto configuration keys.
var runFlags = map[string]string{
	"task":          "run.task",
	"metric":        "run.metric",
	"max-trials":    "run.max_trials",
	"timeout":       "run.timeout",
	"trial-timeout": "run.trial_timeout",
	"seed":          "run.seed",
	"workers":       "run.workers",
	"folds":         "run.folds",
	"families":      "run.families",
	"sampler":       "run.sampler",
	"metrics-addr":  "metrics.addr",
	"log-level":     "log.level",
}

func newTrainCmd() *cobra.Command {
	opts := &trainOptions{}
	v := config.New()
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Search candidate models and train the best one",
		Long: `Train profiles the CSV file, engineers features, searches candidate
models under the configured budget and fits the winner on all rows.

Settings come from defaults, then --config, then OTTER_* environment
variables, then flags. With --state-dir the leaderboard is kept on disk
and an interrupted run resumes where it stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd, v, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.data, "data", "", "CSV file with a header row")
	f.StringVar(&opts.target, "target", "", "Column to predict")
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.stateDir, "state-dir", "", "Keep the leaderboard in this directory")
	f.StringVar(&opts.out, "out", "", "Write the model artifact as JSON to this file")
	f.StringVar(&opts.chart, "chart", "", "Write a feature importance chart (.png, .svg or .pdf)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print per-trial progress")

	f.String("task", "", "classification, regression or auto")
	f.String("metric", "", "Metric to optimize")
	f.Int("max-trials", 0, "Trial budget")
	f.Duration("timeout", 0, "Wall-clock budget for the search")
	f.Duration("trial-timeout", 0, "Time limit for one trial")
	f.Uint64("seed", 0, "Random seed")
	f.Int("workers", 0, "Concurrent trials, 0 for one per CPU")
	f.Int("folds", 0, "Cross-validation folds")
	f.StringSlice("families", nil, "Model families to search")
	f.String("sampler", "", "adaptive or random")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	f.String("log-level", "", "debug, info, warn or error")
	for name, key := range runFlags {
		_ = v.BindPFlag(key, f.Lookup(name))
	}

	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runTrain(cmd *cobra.Command, v *viper.Viper, opts *trainOptions) error {
	if err := config.ReadFile(v, opts.configPath); err != nil {
		return err
	}
	if opts.stateDir != "" {
		v.Set("store.backend", config.BackendFile)
		v.Set("store.dir", opts.stateDir)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	ds, err := loadCSV(opts.data)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	arts, err := cfg.OpenArtifactStore(ctx)
	if err != nil {
		return err
	}

	logger := cfg.Logger(cmd.ErrOrStderr())
	rec := telemetry.NewRecorder()
	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, rec.Handler())
		defer shutdown()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	runOpts := []automl.Option{
		automl.WithStore(store),
		automl.WithRecorder(rec),
		automl.WithLogger(logger),
	}
	if arts != nil {
		runOpts = append(runOpts, automl.WithArtifactStore(arts))
	}
	if !opts.quiet {
		runOpts = append(runOpts, automl.WithProgress(progressPrinter(cmd.ErrOrStderr())))
	}

	trained, err := automl.New(cfg.Run, runOpts...).Run(ctx, ds, opts.target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, trained.Summary())
	if loc := trained.Location(); loc != "" {
		fmt.Fprintf(out, "Artifact stored at %s\n", loc)
	}
	a := trained.Artifact()
	if opts.out != "" {
		if err := writeJSON(opts.out, a); err != nil {
			return err
		}
	}
	if opts.chart != "" {
		if err := report.WriteImportanceChart(opts.chart, a, 0); err != nil {
			return errors.Wrap(err, "importance chart")
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode artifact")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func progressPrinter(w io.Writer) func(automl.Progress) {
	return func(p automl.Progress) {
		if p.Trial == nil {
			fmt.Fprintf(w, "[%3.0f%%] %s\n", p.Fraction*100, p.Stage)
			return
		}
		t := p.Trial
		line := fmt.Sprintf("[%3.0f%%] trial %d %s %s", p.Fraction*100, t.ID, t.Family, t.State)
		if t.SucceededFolds() > 0 {
			line += fmt.Sprintf(" %s=%.4f", t.Metric, t.Mean)
		}
		if p.HasBest {
			line += fmt.Sprintf(" (best %.4f)", p.BestScore)
		}
		fmt.Fprintln(w, line)
	}
}

// serveMetrics starts an HTTP server for h and returns its shutdown func.
func serveMetrics(addr string, h http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "metrics server:", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
