package search

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/crossval"
	"github.com/otter-ml/otter/pkg/errors"
)

type spaceFamily struct {
	name  string
	space model.Space
}

func (f spaceFamily) Name() string           { return f.name }
func (spaceFamily) Supports(model.Task) bool { return true }
func (f spaceFamily) Space() model.Space     { return f.space }

func (spaceFamily) Fit(context.Context, mat.Matrix, []float64, model.Params, model.FitOptions) (model.Fitted, error) {
	return nil, errors.New("not used")
}

var quadFamily = spaceFamily{name: "quad", space: model.Space{
	model.Float("x", 0, 1),
	model.Categorical("mode", "fast", "slow"),
}}

func scored(id int, family string, params model.Params, folds ...float64) *trial.Trial {
	t := trial.New(id, family, params)
	t.State = trial.Scored
	t.FoldScores = folds
	sum := 0.0
	for _, f := range folds {
		sum += f
	}
	t.Mean = sum / float64(len(folds))
	return t
}

// quadEval scores 1-(x-0.3)^2, with a bonus for mode=fast.
type quadEval struct {
	mu    sync.Mutex
	calls []int
	block bool
	sleep time.Duration
	flat  bool
}

func (e *quadEval) Evaluate(ctx context.Context, t *trial.Trial, _ crossval.Pruner) (*trial.Trial, error) {
	e.mu.Lock()
	e.calls = append(e.calls, t.ID)
	e.mu.Unlock()
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.sleep > 0 {
		time.Sleep(e.sleep)
	}
	x := t.Params.Float("x", 0)
	s := 1 - (x-0.3)*(x-0.3)
	if t.Params.String("mode", "") == "fast" {
		s += 0.1
	}
	if e.flat {
		s = 0.5
	}
	return scored(t.ID, t.Family, t.Params, s, s), nil
}

func (e *quadEval) Fail(t *trial.Trial, kind errors.TrialErrorKind, msg string) *trial.Trial {
	out := t.Clone()
	out.State = trial.Failed
	out.Cause = &trial.Cause{Kind: kind, Message: msg}
	return out
}

func (e *quadEval) numCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type memSink struct {
	mu         sync.Mutex
	trials     []*trial.Trial
	checkpoint []byte
}

func (m *memSink) Append(_ context.Context, t *trial.Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials = append(m.trials, t.Clone())
	return nil
}

func (m *memSink) SaveCheckpoint(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = append([]byte(nil), data...)
	return nil
}

func TestStateIsImmutable(t *testing.T) {
	s0 := NewState(7)
	s1, ids := s0.Reserve(3)
	assert.Equal(t, []int{0, 1, 2}, ids)
	assert.Equal(t, 0, s0.NextID())
	assert.Equal(t, 3, s1.NextID())

	s2 := s1.Record(scored(0, "quad", nil, 0.5))
	s3 := s2.Record(scored(1, "quad", nil, 0.9))
	assert.Equal(t, 0, s1.Completed())
	assert.Equal(t, 1, s2.Completed())
	assert.Equal(t, 2, s3.Completed())

	best, ok := s2.Best()
	require.True(t, ok)
	assert.Equal(t, 0, best.ID)
	best, _ = s3.Best()
	assert.Equal(t, 1, best.ID)
}

func TestStateImprovementCounter(t *testing.T) {
	s := NewState(1)
	s = s.Record(scored(0, "quad", nil, 0.5))
	assert.Zero(t, s.SinceImprovement())

	failed := trial.New(1, "quad", nil)
	failed.State = trial.Failed
	s = s.Record(failed)
	s = s.Record(scored(2, "quad", nil, 0.5))
	assert.Equal(t, 2, s.SinceImprovement(), "failures and ties do not improve")

	best, _ := s.Best()
	assert.Equal(t, 0, best.ID, "ties keep the lowest id")

	s = s.Record(scored(3, "quad", nil, 0.6))
	assert.Zero(t, s.SinceImprovement())
}

func TestStateJSONAndResume(t *testing.T) {
	s := NewState(11)
	s, _ = s.Reserve(4)
	s = s.Record(scored(0, "quad", model.Params{"x": 0.2}, 0.7))
	s = s.Record(scored(1, "quad", model.Params{"x": 0.4}, 0.8))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var back State
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 4, back.NextID())
	assert.Equal(t, 2, back.Completed())
	best, ok := back.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.ID)

	// Trial 2 was persisted after the checkpoint; 3 was abandoned.
	persisted := append(s.History(), scored(2, "quad", nil, 0.1))
	resumed, err := Resume(11, data, persisted)
	require.NoError(t, err)
	assert.Equal(t, 3, resumed.Completed())
	assert.Equal(t, 4, resumed.NextID(), "reserved ids are not reused")

	_, err = Resume(12, data, persisted)
	assert.True(t, errors.IsConfigError(err))

	fresh, err := Resume(5, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, fresh.NextID())
}

func TestRandomSamplerIsPure(t *testing.T) {
	st := NewState(3)
	fams := []model.Family{quadFamily}
	a := RandomSampler{}.Propose(st, 5, fams)
	b := RandomSampler{}.Propose(st, 5, fams)
	c := RandomSampler{}.Propose(st, 6, fams)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Params.Key(), c.Params.Key())
	x := a.Params.Float("x", -1)
	assert.True(t, x >= 0 && x <= 1)
}

func historyFromRandom(t *testing.T, n int) State {
	t.Helper()
	st := NewState(21)
	eval := &quadEval{}
	for id := 0; id < n; id++ {
		p := RandomSampler{}.Propose(st, id, []model.Family{quadFamily})
		res, err := eval.Evaluate(context.Background(), trial.New(id, p.Family, p.Params), nil)
		require.NoError(t, err)
		st = st.Record(res)
	}
	return st
}

func TestAdaptiveSamplerConcentratesOnGoodRegion(t *testing.T) {
	st := historyFromRandom(t, 24)
	fams := []model.Family{quadFamily}

	distance := func(s Sampler) float64 {
		total := 0.0
		for id := 100; id < 160; id++ {
			total += math.Abs(s.Propose(st, id, fams).Params.Float("x", 0) - 0.3)
		}
		return total / 60
	}
	assert.Less(t, distance(AdaptiveSampler{}), distance(RandomSampler{}))

	adaptive := AdaptiveSampler{}
	fast := 0
	for id := 100; id < 160; id++ {
		if adaptive.Propose(st, id, fams).Params.String("mode", "") == "fast" {
			fast++
		}
	}
	assert.Greater(t, fast, 30, "the better category is preferred")

	p1 := AdaptiveSampler{}.Propose(st, 200, fams)
	p2 := AdaptiveSampler{}.Propose(st, 200, fams)
	assert.Equal(t, p1, p2)
}

func TestAdaptiveSamplerPrefersWinningFamily(t *testing.T) {
	a := spaceFamily{name: "a", space: model.Space{model.Float("x", 0, 1)}}
	b := spaceFamily{name: "b", space: model.Space{model.Float("x", 0, 1)}}
	st := NewState(2)
	for id := 0; id < 20; id++ {
		fam, score := "a", 1.0
		if id%2 == 1 {
			fam, score = "b", 0.0
		}
		st = st.Record(scored(id, fam, model.Params{"x": 0.5}, score))
	}
	counts := map[string]int{}
	for id := 20; id < 80; id++ {
		counts[AdaptiveSampler{}.Propose(st, id, []model.Family{a, b}).Family]++
	}
	assert.Greater(t, counts["a"], 2*counts["b"])
}

func TestAdaptiveSamplerFallsBackDuringStartup(t *testing.T) {
	st := historyFromRandom(t, 3)
	fams := []model.Family{quadFamily}
	assert.Equal(t, RandomSampler{}.Propose(st, 9, fams), AdaptiveSampler{}.Propose(st, 9, fams))
}

func TestMedianPruner(t *testing.T) {
	st := NewState(1)
	for id, s := range []float64{0.6, 0.7, 0.8, 0.9} {
		st = st.Record(scored(id, "quad", nil, s, s, s))
	}
	p := NewMedianPruner().Bind(st)

	assert.False(t, p.Prune(0, []float64{0.1}), "warmup fold")
	assert.True(t, p.Prune(1, []float64{0.1, 0.1}))
	assert.False(t, p.Prune(1, []float64{0.95, 0.95}))
	assert.False(t, p.Prune(1, []float64{0.76, 0.76}), "above the median")

	few := NewState(1).Record(scored(0, "quad", nil, 0.9, 0.9, 0.9))
	assert.False(t, NewMedianPruner().Bind(few).Prune(1, []float64{0, 0}))
}

func newTestScheduler(t *testing.T, cfg Config, eval Evaluator, sink Sink) *Scheduler {
	t.Helper()
	if cfg.Families == nil {
		cfg.Families = []model.Family{quadFamily}
	}
	s, err := NewScheduler(cfg, eval, sink)
	require.NoError(t, err)
	return s
}

func TestSchedulerZeroBudget(t *testing.T) {
	eval, sink := &quadEval{}, &memSink{}
	s := newTestScheduler(t, Config{Workers: 2}, eval, sink)
	res, err := s.Run(context.Background(), NewState(1))
	require.NoError(t, err)
	assert.Equal(t, StopBudget, res.Stop)
	assert.Zero(t, res.Dispatched)
	assert.Zero(t, eval.numCalls())
	assert.Empty(t, sink.trials)
}

func TestSchedulerRejectsInvalidConfig(t *testing.T) {
	_, err := NewScheduler(Config{Families: []model.Family{quadFamily}, Budget: Budget{MaxTrials: -1}}, &quadEval{}, &memSink{})
	assert.True(t, errors.IsConfigError(err))
	_, err = NewScheduler(Config{Budget: Budget{MaxTrials: 1}}, &quadEval{}, &memSink{})
	assert.True(t, errors.IsConfigError(err))
	_, err = NewScheduler(Config{Families: []model.Family{quadFamily}, Patience: -2}, &quadEval{}, &memSink{})
	assert.True(t, errors.IsConfigError(err))
}

func TestSchedulerRespectsTrialBudget(t *testing.T) {
	eval, sink := &quadEval{}, &memSink{}
	var seen []int
	s := newTestScheduler(t, Config{
		Workers: 3,
		Budget:  Budget{MaxTrials: 10},
		Pruner:  NewMedianPruner(),
		OnTrial: func(tr *trial.Trial, _ State) { seen = append(seen, tr.ID) },
	}, eval, sink)
	res, err := s.Run(context.Background(), NewState(5))
	require.NoError(t, err)

	assert.Equal(t, StopBudget, res.Stop)
	assert.Equal(t, 10, res.Dispatched)
	assert.Equal(t, 10, res.State.Completed())
	require.Len(t, sink.trials, 10)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
	assert.NotEmpty(t, sink.checkpoint)
}

func TestSchedulerIsDeterministic(t *testing.T) {
	run := func() *trial.Trial {
		s := newTestScheduler(t, Config{Workers: 4, Budget: Budget{MaxTrials: 16}}, &quadEval{}, &memSink{})
		res, err := s.Run(context.Background(), NewState(99))
		require.NoError(t, err)
		best, ok := res.State.Best()
		require.True(t, ok)
		return best
	}
	a, b := run(), run()
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.Params.Key(), b.Params.Key())
}

func TestSchedulerEarlyStopping(t *testing.T) {
	eval := &quadEval{flat: true}
	s := newTestScheduler(t, Config{Workers: 1, Budget: Budget{MaxTrials: 50}, Patience: 3}, eval, &memSink{})
	res, err := s.Run(context.Background(), NewState(1))
	require.NoError(t, err)
	assert.Equal(t, StopEarly, res.Stop)
	assert.Equal(t, 4, res.State.Completed())
}

func TestSchedulerWallClockBudget(t *testing.T) {
	eval := &quadEval{sleep: 5 * time.Millisecond}
	s := newTestScheduler(t, Config{Workers: 2, Budget: Budget{Timeout: 30 * time.Millisecond}}, eval, &memSink{})
	res, err := s.Run(context.Background(), NewState(1))
	require.NoError(t, err)
	assert.Equal(t, StopTimeout, res.Stop)
	assert.Positive(t, res.State.Completed())
}

func TestSchedulerCancellationAbandonsInFlightTrials(t *testing.T) {
	eval, sink := &quadEval{block: true}, &memSink{}
	s := newTestScheduler(t, Config{Workers: 2, Budget: Budget{MaxTrials: 10}}, eval, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for eval.numCalls() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	res, err := s.Run(ctx, NewState(1))
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, res.Stop)
	assert.Empty(t, sink.trials, "in-flight trials are never written")
	assert.Equal(t, 2, res.State.NextID(), "abandoned ids stay reserved")
}

func TestSchedulerTrialTimeout(t *testing.T) {
	eval, sink := &quadEval{sleep: 500 * time.Millisecond}, &memSink{}
	s := newTestScheduler(t, Config{
		Workers:      1,
		Budget:       Budget{MaxTrials: 1},
		TrialTimeout: 10 * time.Millisecond,
	}, eval, sink)
	res, err := s.Run(context.Background(), NewState(1))
	require.NoError(t, err)
	require.Len(t, sink.trials, 1)
	got := sink.trials[0]
	assert.Equal(t, trial.Failed, got.State)
	assert.Equal(t, errors.TrialTimeout, got.Cause.Kind)
	_, ok := res.State.Best()
	assert.False(t, ok, "timed-out trials are not ranked")
}

func TestAwaitPrefersDeliveredResult(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 200; i++ {
		done := make(chan outcome, 1)
		done <- outcome{t: &trial.Trial{ID: i, State: trial.Scored}}
		o, finished := await(expired, done)
		require.True(t, finished, "iteration %d", i)
		assert.Equal(t, i, o.t.ID)
	}

	_, finished := await(expired, make(chan outcome, 1))
	assert.False(t, finished)
}

func TestSchedulerResumeDoesNotRescore(t *testing.T) {
	eval, sink := &quadEval{}, &memSink{}
	first := newTestScheduler(t, Config{Workers: 2, Budget: Budget{MaxTrials: 4}}, eval, sink)
	_, err := first.Run(context.Background(), NewState(8))
	require.NoError(t, err)
	require.Equal(t, 4, eval.numCalls())

	st, err := Resume(8, sink.checkpoint, sink.trials)
	require.NoError(t, err)
	second := newTestScheduler(t, Config{Workers: 2, Budget: Budget{MaxTrials: 6}}, eval, sink)
	res, err := second.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 6, eval.numCalls(), "only the two new trials are evaluated")
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, eval.calls)
	assert.Equal(t, 6, res.State.Completed())
	assert.Len(t, sink.trials, 6)
}
