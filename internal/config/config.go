package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every variable, e.g. PURRFECT_LISTEN_ADDR.
const EnvPrefix = "PURRFECT"

const (
	BackendSQLite = "sqlite"
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendRedis  = "redis"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	DBPath     string `envconfig:"DB_PATH" default:"/data/purrfect.db"`

	BlobBackend    string `envconfig:"BLOB_BACKEND" default:"sqlite"`
	BlobDBPath     string `envconfig:"BLOB_DB_PATH" default:"/data/purrfect-media.db"`
	BlobLocalPath  string `envconfig:"BLOB_LOCAL_PATH" default:"/data/media"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"media/"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`

	// Static S3 credentials. When unset the default AWS credential chain is used.
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`

	MetaBackend string `envconfig:"META_BACKEND" default:"sqlite"`
	RedisURL    string `envconfig:"REDIS_URL"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"purrfect"`

	RetainPayloads bool  `envconfig:"RETAIN_PAYLOADS" default:"false"`
	SweepOrphans   bool  `envconfig:"SWEEP_ORPHANS" default:"false"`
	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"104857600"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile   string `envconfig:"LOG_FILE"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.BlobBackend {
	case BackendSQLite, BackendLocal:
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%s_S3_BUCKET is required when the blob backend is s3", EnvPrefix)
		}
		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			return fmt.Errorf("%s_S3_ACCESS_KEY_ID and %s_S3_SECRET_ACCESS_KEY must be set together", EnvPrefix, EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}

	switch c.MetaBackend {
	case BackendSQLite:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%s_REDIS_URL is required when the metadata backend is redis", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown metadata backend %q", c.MetaBackend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}
