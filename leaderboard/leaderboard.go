// Package leaderboard records completed trials.
//
// A Leaderboard is owned by a single aggregator goroutine: appends and
// queries are messages to it, so an append (store write then in-memory
// insert) is atomic with respect to every query. Entries are never modified
// after insertion; rankings are computed on read from a copy.
package leaderboard

import (
	"context"
	"sort"
	"sync"

	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("otter: leaderboard closed")

// Store persists leaderboard entries and the search checkpoint.
type Store interface {
	Append(ctx context.Context, t *trial.Trial) error
	Load(ctx context.Context) ([]*trial.Trial, error)
	SaveCheckpoint(ctx context.Context, data []byte) error
	// LoadCheckpoint returns nil data when no checkpoint exists.
	LoadCheckpoint(ctx context.Context) ([]byte, error)
	Close() error
}

type board struct {
	store   Store
	entries []*trial.Trial
	ids     map[int]bool
	best    int // index into entries, -1 when no Scored entry
}

// Leaderboard is an append-only, crash-resumable record of trial outcomes.
type Leaderboard struct {
	reqs      chan func(*board)
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       log.Logger
}

// Option configures Open.
type Option func(*Leaderboard)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(lb *Leaderboard) { lb.log = l }
}

// Open reloads the entries held by store and starts the aggregator.
// Duplicate ids in the store keep their first occurrence.
func Open(ctx context.Context, store Store, opts ...Option) (*Leaderboard, error) {
	lb := &Leaderboard{
		reqs:   make(chan func(*board)),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		log:    log.Component("leaderboard"),
	}
	for _, opt := range opts {
		opt(lb)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reload leaderboard")
	}
	b := &board{store: store, ids: make(map[int]bool, len(loaded)), best: -1}
	for _, t := range loaded {
		if b.ids[t.ID] {
			lb.log.Warn("duplicate leaderboard entry ignored", log.TrialIDKey, t.ID)
			continue
		}
		b.insert(t)
	}
	lb.log.Info("leaderboard opened", log.OperationKey, log.OperationReload, "entries", len(b.entries))

	go lb.loop(b)
	return lb, nil
}

func (lb *Leaderboard) loop(b *board) {
	defer close(lb.done)
	for {
		select {
		case fn := <-lb.reqs:
			fn(b)
		case <-lb.closed:
			return
		}
	}
}

// do runs fn on the aggregator and waits for it to finish.
func (lb *Leaderboard) do(ctx context.Context, fn func(*board)) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	finished := make(chan struct{})
	wrapped := func(b *board) {
		defer close(finished)
		fn(b)
	}
	select {
	case lb.reqs <- wrapped:
	case <-lb.closed:
		return ErrClosed
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
	<-finished
	return nil
}

func (b *board) insert(t *trial.Trial) {
	b.entries = append(b.entries, t)
	b.ids[t.ID] = true
	if t.State != trial.Scored {
		return
	}
	if b.best < 0 || better(t, b.entries[b.best]) {
		b.best = len(b.entries) - 1
	}
}

func better(a, b *trial.Trial) bool {
	if a.Mean != b.Mean {
		return a.Mean > b.Mean
	}
	return a.ID < b.ID
}

// Append persists a completed trial, then makes it visible to queries. A
// trial is visible only once the store accepted it.
func (lb *Leaderboard) Append(ctx context.Context, t *trial.Trial) error {
	if t == nil || !t.State.Completed() {
		return errors.NewValidationError("trial", "only completed trials can be appended", t)
	}
	entry := t.Clone()
	var err error
	if doErr := lb.do(ctx, func(b *board) {
		if b.ids[entry.ID] {
			err = errors.NewValidationError("trial.id", "already recorded", entry.ID)
			return
		}
		if err = b.store.Append(ctx, entry); err != nil {
			err = errors.Wrapf(err, "persist trial %d", entry.ID)
			return
		}
		b.insert(entry)
	}); doErr != nil {
		return doErr
	}
	if err == nil {
		lb.log.Debug("trial recorded",
			log.OperationKey, log.OperationAppend,
			log.TrialIDKey, entry.ID,
			log.TrialStateKey, string(entry.State),
			log.ScoreMeanKey, entry.Mean,
		)
	}
	return err
}

// Best returns the Scored entry with the highest mean, ties broken by the
// lowest id.
func (lb *Leaderboard) Best() (*trial.Trial, bool) {
	var out *trial.Trial
	_ = lb.do(context.Background(), func(b *board) {
		if b.best >= 0 {
			out = b.entries[b.best].Clone()
		}
	})
	return out, out != nil
}

// Entries returns every entry in append order.
func (lb *Leaderboard) Entries() []*trial.Trial {
	var out []*trial.Trial
	_ = lb.do(context.Background(), func(b *board) {
		out = cloneAll(b.entries)
	})
	return out
}

// Ranked returns every entry sorted for display: Scored by mean descending,
// std ascending then id; then Degraded by mean; then Failed by id.
func (lb *Leaderboard) Ranked() []*trial.Trial {
	out := lb.Entries()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := rank(a.State), rank(b.State); ra != rb {
			return ra < rb
		}
		if a.State != trial.Failed {
			if a.Mean != b.Mean {
				return a.Mean > b.Mean
			}
			if a.Std != b.Std {
				return a.Std < b.Std
			}
		}
		return a.ID < b.ID
	})
	return out
}

func rank(s trial.State) int {
	switch s {
	case trial.Scored:
		return 0
	case trial.Degraded:
		return 1
	default:
		return 2
	}
}

// Len returns the number of entries.
func (lb *Leaderboard) Len() int {
	n := 0
	_ = lb.do(context.Background(), func(b *board) { n = len(b.entries) })
	return n
}

// Counts returns the number of entries per state.
func (lb *Leaderboard) Counts() map[trial.State]int {
	counts := make(map[trial.State]int)
	_ = lb.do(context.Background(), func(b *board) {
		for _, t := range b.entries {
			counts[t.State]++
		}
	})
	return counts
}

// Has reports whether a trial id is recorded.
func (lb *Leaderboard) Has(id int) bool {
	var ok bool
	_ = lb.do(context.Background(), func(b *board) { ok = b.ids[id] })
	return ok
}

// SaveCheckpoint stores the search checkpoint.
func (lb *Leaderboard) SaveCheckpoint(ctx context.Context, data []byte) error {
	var err error
	if doErr := lb.do(ctx, func(b *board) { err = b.store.SaveCheckpoint(ctx, data) }); doErr != nil {
		return doErr
	}
	return errors.Wrap(err, "save checkpoint")
}

// LoadCheckpoint returns the stored search checkpoint, or nil.
func (lb *Leaderboard) LoadCheckpoint(ctx context.Context) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if doErr := lb.do(ctx, func(b *board) { data, err = b.store.LoadCheckpoint(ctx) }); doErr != nil {
		return nil, doErr
	}
	return data, errors.Wrap(err, "load checkpoint")
}

// Close stops the aggregator and closes the store. Later calls return
// ErrClosed.
func (lb *Leaderboard) Close() error {
	err := ErrClosed
	lb.closeOnce.Do(func() {
		var storeErr error
		_ = lb.do(context.Background(), func(b *board) { storeErr = b.store.Close() })
		close(lb.closed)
		<-lb.done
		err = storeErr
	})
	return err
}

func cloneAll(ts []*trial.Trial) []*trial.Trial {
	out := make([]*trial.Trial, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}
