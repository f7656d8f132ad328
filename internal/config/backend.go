package config

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/AnatoleLucet/ripple/internal/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenBackend opens the storage backend described by the storage section.
// It returns a nil backend when storage is disabled.
func (c *Config) OpenBackend() (storage.Backend, io.Closer, error) {
	s := c.Storage

	switch s.Backend {
	case "", "none":
		return nil, nopCloser{}, nil
	case "memory":
		return storage.NewMemoryBackend(), nopCloser{}, nil
	case "sqlite":
		b, err := storage.OpenSQLite(s.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "s3":
		if s.Bucket == "" {
			return nil, nil, fmt.Errorf("storage: s3 backend requires a bucket")
		}
		return storage.NewS3Backend(newS3Client(s), s.Bucket, s.KeyPrefix), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown backend %q", s.Backend)
	}
}

// StorageOptions translates the storage section into storage options.
func (c *Config) StorageOptions() []storage.Option {
	return []storage.Option{
		storage.WithPrefix(c.Storage.Prefix),
		storage.WithAsync(c.Storage.Async),
	}
}

func newS3Client(s StorageConfig) *s3.Client {
	opts := s3.Options{
		Region: s.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}, nil
		}),
	}
	if s.Endpoint != "" {
		opts.BaseEndpoint = aws.String(s.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}
