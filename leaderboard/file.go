package leaderboard

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/otter-ml/otter/core/trial"
	"github.com/otter-ml/otter/pkg/errors"
)

const (
	entriesFile    = "leaderboard.jsonl"
	checkpointFile = "checkpoint.json"
)

// FileStore keeps entries as JSON Lines in dir/leaderboard.jsonl, one fsynced
// write per entry, and the checkpoint in dir/checkpoint.json replaced
// atomically by rename.
//
// A crash can leave at most one torn line at the end of the log. Opening the
// store truncates it, so a partial entry is never read back and later
// appends start on a clean line.
type FileStore struct {
	mu  sync.Mutex
	dir string
	f   *os.File
}

// OpenFileStore opens or creates the store under dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	path := filepath.Join(dir, entriesFile)
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	_, valid, err := decodeEntries(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if valid < len(raw) {
		if err := f.Truncate(int64(valid)); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "truncate torn entry in %s", path)
		}
	}
	if _, err := f.Seek(int64(valid), 0); err != nil {
		f.Close()
		return nil, errors.WithStack(err)
	}
	return &FileStore{dir: dir, f: f}, nil
}

// decodeEntries returns the entries and the byte length of the valid
// prefix. Only the final line may be torn; a bad line before it is an error.
func decodeEntries(raw []byte) ([]*trial.Trial, int, error) {
	var out []*trial.Trial
	pos := 0
	for pos < len(raw) {
		end := bytes.IndexByte(raw[pos:], '\n')
		if end < 0 {
			// Unterminated tail.
			return out, pos, nil
		}
		line := raw[pos : pos+end]
		var t trial.Trial
		if err := json.Unmarshal(line, &t); err != nil {
			if pos+end+1 == len(raw) {
				return out, pos, nil
			}
			return nil, 0, errors.NewDataError(entriesFile, "corrupt entry before end of log")
		}
		out = append(out, &t)
		pos += end + 1
	}
	return out, pos, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// Append writes one line and fsyncs it.
func (s *FileStore) Append(ctx context.Context, t *trial.Trial) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	line, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode trial")
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return errors.Wrap(err, "write entry")
	}
	return errors.Wrap(s.f.Sync(), "sync entry")
}

// Load reads every entry in the log.
func (s *FileStore) Load(context.Context) ([]*trial.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(filepath.Join(s.dir, entriesFile))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	entries, _, err := decodeEntries(raw)
	return entries, err
}

// SaveCheckpoint writes data to a temp file, fsyncs it and renames it over
// the previous checkpoint.
func (s *FileStore) SaveCheckpoint(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, checkpointFile+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(os.Rename(tmp.Name(), filepath.Join(s.dir, checkpointFile)), "replace checkpoint")
}

// LoadCheckpoint reads the checkpoint, or returns nil if none was saved.
func (s *FileStore) LoadCheckpoint(context.Context) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, checkpointFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, errors.WithStack(err)
}

// Close closes the log file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return errors.WithStack(err)
}
