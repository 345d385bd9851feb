package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/otter-ml/otter/automl"
	"github.com/otter-ml/otter/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. OTTER_RUN_MAX_TRIALS.
const EnvPrefix = "OTTER"

// Load reads defaults, then the YAML file at path when path is not empty,
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile merges the YAML file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.NewConfigError("config", "cannot read file: "+err.Error(), path)
	}
	return nil
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers may bind flags to it before Decode.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("config", "cannot decode: "+err.Error(), nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	run := automl.DefaultConfig()

	// Run defaults
	v.SetDefault("run.task", run.Task)
	v.SetDefault("run.metric", run.Metric)
	v.SetDefault("run.folds", run.Folds)
	v.SetDefault("run.seed", run.Seed)
	v.SetDefault("run.workers", run.Workers)
	v.SetDefault("run.fit_workers", run.FitWorkers)
	v.SetDefault("run.max_trials", run.MaxTrials)
	v.SetDefault("run.timeout", run.Timeout)
	v.SetDefault("run.trial_timeout", run.TrialTimeout)
	v.SetDefault("run.patience", run.Patience)
	v.SetDefault("run.sampler", run.Sampler)
	v.SetDefault("run.pruning", run.Pruning)
	v.SetDefault("run.families", []string{})
	v.SetDefault("run.id_threshold", run.IDThreshold)
	v.SetDefault("run.max_categories", run.MaxCategories)
	v.SetDefault("run.leakage_threshold", run.LeakageThreshold)
	v.SetDefault("run.permutation_repeats", run.PermutationRepeats)
	v.SetDefault("run.top_features", run.TopFeatures)

	// Leaderboard store defaults
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "otter")

	// Artifact store defaults
	v.SetDefault("artifacts.backend", BackendNone)
	v.SetDefault("artifacts.dir", "")
	v.SetDefault("artifacts.minio.endpoint", "")
	v.SetDefault("artifacts.minio.access_key", "")
	v.SetDefault("artifacts.minio.secret_key", "")
	v.SetDefault("artifacts.minio.bucket", "otter-artifacts")
	v.SetDefault("artifacts.minio.prefix", "")
	v.SetDefault("artifacts.minio.use_ssl", false)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.addr", "")
}
