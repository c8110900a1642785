// Package objectstore implements component K: resolving file-content
// placeholders on read and storing uploaded binary content on write, behind
// one uniform interface regardless of backend. Grounded on the teacher's
// spf13/afero + looplj/afero-s3 wiring (go.mod), generalized from axonhub's
// upload-storage use case to spec.md §4.K's placeholder-resolution use case:
// both boil down to "one afero.Fs, keyed by content-addressed path".
package objectstore

import (
	"context"
	"io"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"

	afero_s3 "github.com/looplj/afero-s3"

	"github.com/tensorzero/gateway/internal/gwerrors"
)

// Backend names spec.md §4.K's three options.
type Backend string

const (
	BackendFilesystem Backend = "filesystem"
	BackendS3         Backend = "s3_compatible"
	BackendDisabled   Backend = "disabled"
)

// Config configures whichever backend is selected. Only the fields the
// selected Backend reads are required.
type Config struct {
	Backend Backend

	// filesystem
	RootPath string

	// s3_compatible
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Store is component K's uniform interface: put(path, bytes) -> (), get(path)
// -> bytes. A disabled store returns a clear error on every call rather than
// silently no-oping (spec.md §4.K).
type Store struct {
	fs      afero.Fs
	enabled bool
}

// New builds a Store over cfg.Backend. A disabled (or empty) backend yields
// a Store that errors on every Put/Get call; an unrecognized backend makes
// New return an error.
func New(cfg Config) (*Store, error) {
	switch cfg.Backend {
	case BackendFilesystem:
		root := cfg.RootPath
		if root == "" {
			root = "."
		}

		return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), root), enabled: true}, nil

	case BackendS3:
		client, err := s3Client(cfg)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "configure s3 object store")
		}

		return &Store{fs: afero_s3.NewFs(cfg.Bucket, client), enabled: true}, nil

	case BackendDisabled, "":
		return &Store{enabled: false}, nil

	default:
		return nil, gwerrors.New(gwerrors.KindInvalidRequest, "unknown object store backend %q", cfg.Backend)
	}
}

// Put writes bytes at path, creating parent directories as needed.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if !s.enabled {
		return gwerrors.New(gwerrors.KindObjectStore, "object store is disabled: cannot store %q", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return gwerrors.Wrap(gwerrors.KindInternalError, err, "create parent directories for %q", path)
		}
	}

	f, err := s.fs.Create(path)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternalError, err, "create object %q", path)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return gwerrors.Wrap(gwerrors.KindInternalError, err, "write object %q", path)
	}

	return nil
}

// Get reads the bytes stored at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if !s.enabled {
		return nil, gwerrors.New(gwerrors.KindObjectStore, "object store is disabled: cannot resolve %q", path)
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "open object %q", path)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternalError, err, "read object %q", path)
	}

	return data, nil
}

// s3Client builds an aws-sdk-go-v2 S3 client, overriding the endpoint for
// S3-compatible (non-AWS) backends and using static credentials when
// supplied, falling back to the SDK's default credential chain otherwise.
func s3Client(cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}

		o.UsePathStyle = cfg.Endpoint != ""
	}), nil
}
