// Package config loads run settings from defaults, an optional YAML file
// and OTTER_ environment variables, and opens the stores they name.
package config

import (
	"context"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/otter-ml/otter/artifact"
	"github.com/otter-ml/otter/automl"
	"github.com/otter-ml/otter/leaderboard"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/pkg/log"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMinIO  = "minio"
	BackendNone   = "none"
)

// Config holds everything the CLI needs for one run.
type Config struct {
	Run       automl.Config  `mapstructure:"run" validate:"-"`
	Store     StoreConfig    `mapstructure:"store"`
	Artifacts ArtifactConfig `mapstructure:"artifacts"`
	Log       LogConfig      `mapstructure:"log"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
}

// StoreConfig selects where the leaderboard and checkpoint live.
type StoreConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=memory file redis"`
	Dir     string      `mapstructure:"dir" validate:"required_if=Backend file"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

// ArtifactConfig selects where the winning artifact is saved.
type ArtifactConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=none file minio"`
	Dir     string      `mapstructure:"dir" validate:"required_if=Backend file"`
	MinIO   MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig holds object storage settings.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}

// Validate checks the run settings and the store selections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			return errors.NewConfigError(field, message(fe), fe.Value())
		}
		return errors.Wrap(err, "validate config")
	}
	if c.Store.Backend == BackendRedis && c.Store.Redis.Addr == "" {
		return errors.NewConfigError("store.redis.addr", "is required for the redis backend", "")
	}
	if c.Artifacts.Backend == BackendMinIO && (c.Artifacts.MinIO.Endpoint == "" || c.Artifacts.MinIO.Bucket == "") {
		return errors.NewConfigError("artifacts.minio", "endpoint and bucket are required for the minio backend", c.Artifacts.MinIO.Endpoint)
	}
	return errors.Wrap(c.Run.Validate(), "run")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "failed validation: " + fe.Tag()
	}
}

// OpenStore opens the configured leaderboard store. The caller closes it.
func (c *Config) OpenStore(ctx context.Context) (leaderboard.Store, error) {
	switch c.Store.Backend {
	case BackendFile:
		s, err := leaderboard.OpenFileStore(c.Store.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := leaderboard.DialRedis(ctx, leaderboard.RedisOptions{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Prefix:   c.Store.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return leaderboard.NewMemoryStore(), nil
	}
}

// OpenArtifactStore opens the configured artifact store. It returns nil
// when artifacts are not persisted.
func (c *Config) OpenArtifactStore(ctx context.Context) (artifact.Store, error) {
	switch c.Artifacts.Backend {
	case BackendFile:
		return artifact.FileStore{Dir: c.Artifacts.Dir}, nil
	case BackendMinIO:
		m := c.Artifacts.MinIO
		s, err := artifact.NewMinIOStore(ctx, artifact.MinIOOptions{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// Logger builds the logger described by Log.
func (c *Config) Logger(w io.Writer) log.Logger {
	level, _ := log.ParseLevel(c.Log.Level)
	if c.Log.Format == "console" {
		return log.NewConsoleLogger(w, level)
	}
	return log.NewZerologLogger(w, level)
}
