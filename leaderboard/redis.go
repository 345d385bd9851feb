package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/pkg/errors"
)

// RedisStore keeps entries in a Redis list (RPUSH per entry) and the
// checkpoint in a plain key. Keys are namespaced by prefix, typically the
// run name.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// RedisOptions configures DialRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DialRedis connects and pings. The returned store closes the client.
func DialRedis(ctx context.Context, opt RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opt.Addr,
		Password:        opt.Password,
		DB:              opt.DB,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", opt.Addr)
	}
	s := NewRedisStore(client, opt.Prefix)
	s.owned = true
	return s, nil
}

// NewRedisStore uses an existing client, which the caller keeps owning.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otter"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entriesKey() string    { return s.prefix + ":leaderboard" }
func (s *RedisStore) checkpointKey() string { return s.prefix + ":checkpoint" }

// Append pushes one entry. RPUSH is atomic, so readers never see a partial
// entry.
func (s *RedisStore) Append(ctx context.Context, t *trial.Trial) error {
	b, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode trial")
	}
	return errors.Wrap(s.client.RPush(ctx, s.entriesKey(), b).Err(), "redis rpush")
}

// Load reads the whole list.
func (s *RedisStore) Load(ctx context.Context) ([]*trial.Trial, error) {
	raw, err := s.client.LRange(ctx, s.entriesKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis lrange")
	}
	out := make([]*trial.Trial, 0, len(raw))
	for _, r := range raw {
		var t trial.Trial
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, errors.NewDataError(s.entriesKey(), "corrupt leaderboard entry")
		}
		out = append(out, &t)
	}
	return out, nil
}

// SaveCheckpoint overwrites the checkpoint key.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, data []byte) error {
	return errors.Wrap(s.client.Set(ctx, s.checkpointKey(), data, 0).Err(), "redis set")
}

// LoadCheckpoint returns nil when the key is absent.
func (s *RedisStore) LoadCheckpoint(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.checkpointKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return data, nil
}

// Reset deletes the store's keys.
func (s *RedisStore) Reset(ctx context.Context) error {
	return errors.Wrap(s.client.Del(ctx, s.entriesKey(), s.checkpointKey()).Err(), "redis del")
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
