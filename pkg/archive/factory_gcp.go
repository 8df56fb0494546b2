//go:build gcp

package archive

import "context"

func newGCSStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	return NewGCSStore(ctx, GCSConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
