// Package config reads the upload client's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Backend selects the store sessions are uploaded to.
type Backend string

const (
	BackendHTTP Backend = "http"
	BackendS3   Backend = "s3"
)

// Config is the flat set of settings read from UPLOAD_* and AWS_* variables.
type Config struct {
	APIURL      string `env:"UPLOAD_API_URL"`
	DownloadURL string `env:"UPLOAD_DOWNLOAD_URL"`
	APIToken    Secret `env:"UPLOAD_API_TOKEN"`
	ChunkSize   string `env:"UPLOAD_CHUNK_SIZE"`
	Backend     string `env:"UPLOAD_BACKEND,opt[http,s3]"`

	S3Bucket           string `env:"UPLOAD_S3_BUCKET"`
	S3Region           string `env:"UPLOAD_S3_REGION"`
	S3Prefix           string `env:"UPLOAD_S3_PREFIX"`
	S3Endpoint         string `env:"UPLOAD_S3_ENDPOINT"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey Secret `env:"AWS_SECRET_ACCESS_KEY"`

	Verbose  bool `env:"UPLOAD_VERBOSE"`
	Tracking bool `env:"UPLOAD_TRACKING"`
}

// New reads the configuration from envRepo and fills in the defaults.
func New(envRepo env.Repository) (Config, error) {
	var c Config
	if err := parse(&c, envRepo); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Backend == "" {
		c.Backend = string(BackendHTTP)
	}
	if c.ChunkSize == "" {
		c.ChunkSize = chunk.HumanSize(chunk.DefaultSize)
	}
	if c.DownloadURL == "" {
		c.DownloadURL = c.APIURL
	}
	c.S3Prefix = normalizePrefix(c.S3Prefix)

	return c, nil
}

// ChunkSizeBytes parses ChunkSize.
func (c Config) ChunkSizeBytes() (int64, error) {
	return chunk.ParseSize(c.ChunkSize)
}

// Validate checks that the selected backend can be reached with the
// configured values.
func (c Config) Validate() error {
	if _, err := c.ChunkSizeBytes(); err != nil {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE: %w", err)
	}

	var errs []error
	switch Backend(c.Backend) {
	case BackendHTTP:
		if c.APIURL == "" {
			errs = append(errs, errors.New("UPLOAD_API_URL: required for the http backend"))
		}
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("UPLOAD_S3_BUCKET: required for the s3 backend"))
		}
		if c.S3Region == "" {
			errs = append(errs, errors.New("UPLOAD_S3_REGION: required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_BACKEND: unknown backend %q", c.Backend))
	}
	return errors.Join(errs...)
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
