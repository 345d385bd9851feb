package automl

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/otter-ml/otter/crossval"
	"github.com/otter-ml/otter/features"
	"github.com/otter-ml/otter/metrics"
	"github.com/otter-ml/otter/pkg/errors"
)

// Defaults for Config fields whose zero value is not meaningful.
const (
	DefaultMaxTrials          = 30
	DefaultPermutationRepeats = 3
	DefaultTopFeatures        = 3
)

// Sampler names accepted by Config.Sampler.
const (
	SamplerAdaptive = "adaptive"
	SamplerRandom   = "random"
)

// Config holds the run parameters. Field names in mapstructure tags are the
// keys used by configuration files and in error messages.
type Config struct {
	// Task is auto, classification or regression.
	Task string `mapstructure:"task" validate:"omitempty,oneof=auto classification regression"`
	// Metric is the objective; empty selects the task default.
	Metric string `mapstructure:"metric"`
	Folds  int    `mapstructure:"folds" validate:"omitempty,gte=2,lte=50"`
	Seed   uint64 `mapstructure:"seed"`

	// Workers bounds concurrent trials. Zero means runtime.NumCPU().
	Workers int `mapstructure:"workers" validate:"gte=0"`
	// FitWorkers bounds parallelism inside one fit.
	FitWorkers int `mapstructure:"fit_workers" validate:"gte=0"`

	// MaxTrials and Timeout form the budget. Both zero is an empty budget.
	MaxTrials    int           `mapstructure:"max_trials" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0s"`
	TrialTimeout time.Duration `mapstructure:"trial_timeout" validate:"gte=0s"`
	Patience     int           `mapstructure:"patience" validate:"gte=0"`
	Sampler      string        `mapstructure:"sampler" validate:"omitempty,oneof=adaptive random"`
	Pruning      bool          `mapstructure:"pruning"`
	// Families restricts the candidates by name. Empty means all.
	Families []string `mapstructure:"families" validate:"dive,required"`

	IDThreshold      float64 `mapstructure:"id_threshold" validate:"gte=0,lte=1"`
	MaxCategories    int     `mapstructure:"max_categories" validate:"gte=0"`
	LeakageThreshold float64 `mapstructure:"leakage_threshold" validate:"gte=0,lte=1"`

	PermutationRepeats int `mapstructure:"permutation_repeats" validate:"gte=0"`
	TopFeatures        int `mapstructure:"top_features" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Task:               "auto",
		Folds:              crossval.DefaultFolds,
		MaxTrials:          DefaultMaxTrials,
		Sampler:            SamplerAdaptive,
		Pruning:            true,
		IDThreshold:        features.DefaultIDThreshold,
		MaxCategories:      features.DefaultMaxCategories,
		LeakageThreshold:   features.DefaultLeakageThreshold,
		PermutationRepeats: DefaultPermutationRepeats,
		TopFeatures:        DefaultTopFeatures,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field and returns the first violation as a
// ConfigError.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			return errors.NewConfigError(field, fieldMessage(fe), fe.Value())
		}
		return errors.Wrap(err, "validate config")
	}
	if c.Metric != "" {
		if _, err := metrics.Lookup(c.Metric); err != nil {
			return err
		}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return fmt.Sprintf("must be at least %s", strings.TrimSuffix(fe.Param(), "s"))
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// withDefaults fills zero fields that have a non-zero default. The budget
// fields are left alone: a zero budget is meaningful.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Task == "" {
		c.Task = d.Task
	}
	if c.Folds == 0 {
		c.Folds = d.Folds
	}
	if c.Sampler == "" {
		c.Sampler = d.Sampler
	}
	if c.IDThreshold == 0 {
		c.IDThreshold = d.IDThreshold
	}
	if c.MaxCategories == 0 {
		c.MaxCategories = d.MaxCategories
	}
	if c.LeakageThreshold == 0 {
		c.LeakageThreshold = d.LeakageThreshold
	}
	if c.PermutationRepeats == 0 {
		c.PermutationRepeats = d.PermutationRepeats
	}
	if c.TopFeatures == 0 {
		c.TopFeatures = d.TopFeatures
	}
	c.Families = append([]string(nil), c.Families...)
	return c
}
