// Package storage reads inputs and writes outputs on the local filesystem,
// standard streams, or S3-compatible object storage (s3://bucket/key).
package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stdio is the location that maps to stdin for reads and stdout for writes.
const Stdio = "-"

const s3Scheme = "s3://"

// Config holds S3 connection settings. Credentials come from the default
// AWS chain.
type Config struct {
	Region    string
	Endpoint  string // optional; set for MinIO or other S3-compatible stores
	PathStyle bool
}

// Storage resolves locations to the right backend.
type Storage struct {
	cfg    Config
	stdin  io.Reader
	stdout io.Writer

	mu     sync.Mutex
	client *s3.Client
}

// Option configures Storage.
type Option func(*Storage)

// WithS3Client uses c instead of building a client from Config.
func WithS3Client(c *s3.Client) Option {
	return func(s *Storage) { s.client = c }
}

// WithStdio overrides the standard streams.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(s *Storage) {
		s.stdin = in
		s.stdout = out
	}
}

// New creates a Storage.
func New(cfg Config, opts ...Option) *Storage {
	s := &Storage{cfg: cfg, stdin: os.Stdin, stdout: os.Stdout}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// IsS3 reports whether location is an s3:// URI.
func IsS3(location string) bool {
	return strings.HasPrefix(location, s3Scheme)
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3(uri) {
		return "", "", eris.Errorf("storage: not an s3 uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", eris.Errorf("storage: s3 uri needs bucket and key: %q", uri)
	}
	return bucket, key, nil
}

// Open returns a reader for location. The caller closes it.
func (s *Storage) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	switch {
	case location == Stdio:
		return io.NopCloser(s.stdin), nil
	case IsS3(location):
		bucket, key, err := ParseS3URI(location)
		if err != nil {
			return nil, err
		}
		client, err := s.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, eris.Wrapf(err, "storage: get %s", location)
		}
		return out.Body, nil
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, eris.Wrapf(err, "storage: open %s", location)
		}
		return f, nil
	}
}

// ReadAll reads the whole object at location.
func (s *Storage) ReadAll(ctx context.Context, location string) ([]byte, error) {
	rc, err := s.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", location)
	}
	return data, nil
}

// Write stores data at location. Local files are written to a temporary
// file and renamed into place, so a failed write leaves no partial output.
func (s *Storage) Write(ctx context.Context, location string, data []byte) error {
	switch {
	case location == Stdio:
		if _, err := s.stdout.Write(data); err != nil {
			return eris.Wrap(err, "storage: write stdout")
		}
		return nil
	case IsS3(location):
		bucket, key, err := ParseS3URI(location)
		if err != nil {
			return err
		}
		client, err := s.s3Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(key)),
		})
		if err != nil {
			return eris.Wrapf(err, "storage: put %s", location)
		}
		zap.L().Debug("storage: wrote object", zap.String("location", location), zap.Int("bytes", len(data)))
		return nil
	default:
		return writeFileAtomic(location, data)
	}
}

func (s *Storage) s3Client(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	region := s.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "storage: load aws config")
	}
	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = s.cfg.PathStyle
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
	})
	return s.client, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "storage: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "storage: create temp for %s", path)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return eris.Wrapf(err, "storage: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return eris.Wrapf(err, "storage: close %s", path)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		cleanup()
		return eris.Wrapf(err, "storage: chmod %s", path)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return eris.Wrapf(err, "storage: rename into %s", path)
	}
	return nil
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
