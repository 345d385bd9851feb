package leaderboard

import (
	"context"
	"sync"

	"github.com/otter-ml/otter/core/trial"
)

// MemoryStore keeps entries in process memory. It survives reopening the
// Leaderboard but not the process.
type MemoryStore struct {
	mu         sync.Mutex
	trials     []*trial.Trial
	checkpoint []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, t *trial.Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials = append(m.trials, t.Clone())
	return nil
}

func (m *MemoryStore) Load(context.Context) ([]*trial.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.trials), nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) LoadCheckpoint(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		return nil, nil
	}
	return append([]byte(nil), m.checkpoint...), nil
}

func (m *MemoryStore) Close() error { return nil }
