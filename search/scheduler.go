package search

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/crossval"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
)

// StopReason says why the search loop ended.
type StopReason string

const (
	StopBudget    StopReason = "budget"
	StopTimeout   StopReason = "timeout"
	StopEarly     StopReason = "early_stopping"
	StopCancelled StopReason = "cancelled"
)

// Budget bounds the search. MaxTrials counts every recorded trial, resumed
// ones included. A zero field is unlimited, but a zero Budget is exhausted
// before the first dispatch.
type Budget struct {
	MaxTrials int
	Timeout   time.Duration
}

// Validate rejects negative limits.
func (b Budget) Validate() error {
	if b.MaxTrials < 0 {
		return errors.NewConfigError("budget.max_trials", "must not be negative", b.MaxTrials)
	}
	if b.Timeout < 0 {
		return errors.NewConfigError("budget.timeout", "must not be negative", b.Timeout.String())
	}
	return nil
}

// Evaluator scores one trial. *crossval.Trainer satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, t *trial.Trial, pruner crossval.Pruner) (*trial.Trial, error)
	Fail(t *trial.Trial, kind errors.TrialErrorKind, msg string) *trial.Trial
}

// Sink persists search progress. *leaderboard.Leaderboard satisfies it.
type Sink interface {
	Append(ctx context.Context, t *trial.Trial) error
	SaveCheckpoint(ctx context.Context, data []byte) error
}

// Config configures a Scheduler.
type Config struct {
	Families []model.Family
	Sampler  Sampler
	// Pruner may be nil to disable pruning.
	Pruner PrunerFactory
	// Workers is the generation size. Zero means runtime.NumCPU().
	Workers      int
	Budget       Budget
	TrialTimeout time.Duration
	// Patience stops the search after this many consecutive trials without
	// improvement. Zero disables early stopping.
	Patience int
	// OnTrial, if set, is called from the scheduler goroutine after each
	// trial is persisted.
	OnTrial func(t *trial.Trial, st State)
	Logger  log.Logger
}

// Result is the outcome of Scheduler.Run.
type Result struct {
	State State
	Stop  StopReason
	// Dispatched counts trials started by this call.
	Dispatched int
}

// Scheduler runs generations of at most Workers trials. Proposals and
// pruning thresholds for a generation are computed from the state at its
// start and results are recorded in id order, so a run is reproducible for
// a fixed seed and worker count regardless of goroutine timing.
type Scheduler struct {
	cfg  Config
	eval Evaluator
	sink Sink
	log  log.Logger
}

// NewScheduler validates cfg.
func NewScheduler(cfg Config, eval Evaluator, sink Sink) (*Scheduler, error) {
	if len(cfg.Families) == 0 {
		return nil, errors.NewConfigError("candidates", "no family supports the task", nil)
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, err
	}
	if cfg.TrialTimeout < 0 {
		return nil, errors.NewConfigError("trial_timeout", "must not be negative", cfg.TrialTimeout.String())
	}
	if cfg.Patience < 0 {
		return nil, errors.NewConfigError("patience", "must not be negative", cfg.Patience)
	}
	if cfg.Workers < 0 {
		return nil, errors.NewConfigError("workers", "must not be negative", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = AdaptiveSampler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("search")
	}
	return &Scheduler{cfg: cfg, eval: eval, sink: sink, log: cfg.Logger}, nil
}

// Run continues the search from st until the budget is spent, early
// stopping triggers or ctx is cancelled. Trials still running at
// cancellation are abandoned and never persisted. The returned error is
// non-nil only when the sink fails.
func (s *Scheduler) Run(ctx context.Context, st State) (Result, error) {
	res := Result{State: st}
	started := time.Now()
	for {
		if reason, stop := s.shouldStop(ctx, res.State, started); stop {
			res.Stop = reason
			s.log.Info("search stopped",
				log.ReasonKey, string(reason),
				"trials", res.State.Completed(),
			)
			return res, nil
		}

		n := s.cfg.Workers
		if limit := s.cfg.Budget.MaxTrials; limit > 0 {
			n = min(n, limit-res.State.Completed())
		}
		snapshot, ids := res.State.Reserve(n)
		if err := s.checkpoint(ctx, snapshot); err != nil {
			return res, err
		}
		res.State = snapshot
		res.Dispatched += n

		done, err := s.generation(ctx, snapshot, ids)
		if err != nil {
			return res, err
		}
		for _, t := range done {
			if t == nil {
				continue
			}
			if err := s.sink.Append(context.WithoutCancel(ctx), t); err != nil {
				return res, errors.Wrapf(err, "persist trial %d", t.ID)
			}
			res.State = res.State.Record(t)
			if s.cfg.OnTrial != nil {
				s.cfg.OnTrial(t, res.State)
			}
		}
	}
}

func (s *Scheduler) shouldStop(ctx context.Context, st State, started time.Time) (StopReason, bool) {
	b := s.cfg.Budget
	switch {
	case ctx.Err() != nil:
		return StopCancelled, true
	case b.MaxTrials == 0 && b.Timeout == 0:
		return StopBudget, true
	case b.MaxTrials > 0 && st.Completed() >= b.MaxTrials:
		return StopBudget, true
	case b.Timeout > 0 && time.Since(started) >= b.Timeout:
		return StopTimeout, true
	}
	if _, ok := st.Best(); ok && s.cfg.Patience > 0 && st.SinceImprovement() >= s.cfg.Patience {
		return StopEarly, true
	}
	return "", false
}

func (s *Scheduler) checkpoint(ctx context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode search checkpoint")
	}
	return s.sink.SaveCheckpoint(context.WithoutCancel(ctx), data)
}

// generation evaluates the trials for ids concurrently and returns them in
// id order. Abandoned trials are nil.
func (s *Scheduler) generation(ctx context.Context, snapshot State, ids []int) ([]*trial.Trial, error) {
	var pruner crossval.Pruner
	if s.cfg.Pruner != nil {
		pruner = s.cfg.Pruner.Bind(snapshot)
	}
	out := make([]*trial.Trial, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		p := s.cfg.Sampler.Propose(snapshot, id, s.cfg.Families)
		pending := trial.New(id, p.Family, p.Params)
		g.Go(func() error {
			out[i] = s.runOne(ctx, pending, pruner, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type outcome struct {
	t   *trial.Trial
	err error
}

// await waits for the evaluation or the trial deadline. A result that is
// already delivered when the deadline fires still counts as finished.
func await(tctx context.Context, done <-chan outcome) (outcome, bool) {
	select {
	case o := <-done:
		return o, true
	case <-tctx.Done():
		select {
		case o := <-done:
			return o, true
		default:
			return outcome{}, false
		}
	}
}

// runOne returns nil when the run is cancelled. A trial that outlives
// TrialTimeout is returned as Failed and its evaluation goroutine is left to
// notice the cancelled context.
func (s *Scheduler) runOne(ctx context.Context, pending *trial.Trial, pruner crossval.Pruner, worker int) *trial.Trial {
	tctx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.TrialTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, s.cfg.TrialTimeout)
	}
	defer cancel()

	logger := s.log.With(log.TrialIDKey, pending.ID, log.ModelNameKey, pending.Family, log.WorkerIDKey, worker)
	logger.Debug("trial dispatched", log.ParamsKey, pending.Params)

	done := make(chan outcome, 1)
	go func() {
		t, err := s.eval.Evaluate(tctx, pending, pruner)
		done <- outcome{t, err}
	}()

	o, finished := await(tctx, done)
	if ctx.Err() != nil {
		logger.Debug("trial abandoned")
		return nil
	}
	if !finished {
		logger.Warn("trial timed out", log.ReasonKey, string(errors.TrialTimeout))
		return s.eval.Fail(pending, errors.TrialTimeout, fmt.Sprintf("exceeded trial timeout %s", s.cfg.TrialTimeout))
	}
	if o.err != nil {
		return s.eval.Fail(pending, errors.TrialFit, o.err.Error())
	}
	if o.t.State != trial.Scored {
		logger.Info("trial not scored", log.TrialStateKey, string(o.t.State), log.ErrorKey, o.t.Err())
	}
	return o.t
}
