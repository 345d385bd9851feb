package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/otter-ml/otter/pkg/errors"
)

// FileStore writes one JSON document per run under Dir.
type FileStore struct {
	Dir string
}

func (s FileStore) path(runID string) string {
	return filepath.Join(s.Dir, runID+".json")
}

// Save writes dir/<run id>.json through a temp file and rename.
func (s FileStore) Save(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WithStack(err)
	}
	if a.RunID == "" {
		return "", errors.NewValidationError("run_id", "must not be empty", a.RunID)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", s.Dir)
	}
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode artifact")
	}
	tmp, err := os.CreateTemp(s.Dir, a.RunID+".*.tmp")
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return "", errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.WithStack(err)
	}
	dst := s.path(a.RunID)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.WithStack(err)
	}
	return dst, nil
}

// Load reads the artifact of runID.
func (s FileStore) Load(_ context.Context, runID string) (Artifact, error) {
	var a Artifact
	b, err := os.ReadFile(s.path(runID))
	if err != nil {
		return a, errors.Wrapf(err, "read artifact %s", runID)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, errors.Wrapf(err, "decode artifact %s", runID)
	}
	return a, nil
}
