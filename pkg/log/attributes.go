// Standard attribute keys for the training pipeline.
//
// Keys follow a hierarchical naming convention ("trial.id", "cv.fold") so
// log lines from the scheduler, trainer and leaderboard can be filtered
// together.

package log

// Run and operation context
const (
	// RunIDKey identifies one orchestrator run.
	RunIDKey = "run.id"

	// StageKey is the orchestrator state ("searching", "finalizing", ...).
	StageKey = "run.stage"

	// ComponentKey identifies which package is logging.
	// Examples: "features", "search", "leaderboard"
	ComponentKey = "ml.component"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"
)

// Trial context
const (
	TrialIDKey    = "trial.id"
	TrialStateKey = "trial.state"
	ModelNameKey  = "model.name"
	ParamsKey     = "model.hyperparams"
	FoldKey       = "cv.fold"
	FoldsKey      = "cv.folds"
	WorkerIDKey   = "infra.worker_id"
)

// Data shape
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ColumnKey   = "data.column"
	TaskKey     = "data.task"
)

// Scores and timing
const (
	MetricKey     = "metrics.name"
	ScoreKey      = "metrics.score"
	ScoreMeanKey  = "metrics.mean"
	ScoreStdKey   = "metrics.std"
	BestScoreKey  = "metrics.best"
	DurationMsKey = "perf.duration_ms"
	RandomSeedKey = "config.random_seed"
	VersionKey    = "features.version"
)

// Error context
const (
	// ErrorKey carries the error value.
	ErrorKey = "error"

	// StacktraceKey carries the cockroachdb/errors stack trace of ErrorKey.
	StacktraceKey = "error.stacktrace"

	// ReasonKey is a short machine-readable cause ("timeout", "leakage").
	ReasonKey = "error.reason"
)

// Standard operation values.
const (
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationEvaluate = "evaluate"
	OperationAppend   = "append"
	OperationReload   = "reload"
)
