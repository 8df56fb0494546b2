package archive

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend selects a segment store implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// StoreConfig parameterizes NewStore. Environment parsing lives in
// pkg/config; this factory only sees resolved values.
type StoreConfig struct {
	Backend  Backend
	Dir      string // fs: segment directory
	Bucket   string // s3, gcs
	Region   string // s3
	Endpoint string // s3: MinIO/LocalStack override
	Prefix   string // s3, gcs: object key prefix
}

// NewStore builds the configured segment store. An empty backend
// means fs.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join("data", "archive")
		}
		return NewFSStore(dir)
	case BackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend requires a bucket")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case BackendGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: gcs backend requires a bucket")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported backend: %s", backend)
	}
}
