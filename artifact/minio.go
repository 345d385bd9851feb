package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/otter-ml/otter/pkg/errors"
)

// MinIOOptions configures an S3-compatible artifact bucket.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinIOStore keeps artifacts as JSON objects in a bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOStore connects and creates the bucket when missing.
func NewMinIOStore(ctx context.Context, opt MinIOOptions) (*MinIOStore, error) {
	client, err := minio.New(opt.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opt.AccessKey, opt.SecretKey, ""),
		Secure: opt.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}
	exists, err := client.BucketExists(ctx, opt.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "check bucket %s", opt.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opt.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", opt.Bucket)
		}
	}
	return &MinIOStore{client: client, bucket: opt.Bucket, prefix: opt.Prefix}, nil
}

func (s *MinIOStore) key(runID string) string {
	return path.Join(s.prefix, runID+".json")
}

// Save uploads the artifact and returns its s3:// location.
func (s *MinIOStore) Save(ctx context.Context, a Artifact) (string, error) {
	if a.RunID == "" {
		return "", errors.NewValidationError("run_id", "must not be empty", a.RunID)
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", errors.Wrap(err, "encode artifact")
	}
	key := s.key(a.RunID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", key)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

// Load downloads the artifact of runID.
func (s *MinIOStore) Load(ctx context.Context, runID string) (Artifact, error) {
	var a Artifact
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(runID), minio.GetObjectOptions{})
	if err != nil {
		return a, errors.Wrapf(err, "get artifact %s", runID)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return a, errors.Wrapf(err, "read artifact %s", runID)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, errors.Wrapf(err, "decode artifact %s", runID)
	}
	return a, nil
}
