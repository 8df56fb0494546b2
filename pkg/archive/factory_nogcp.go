//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	return nil, fmt.Errorf("archive: gcs backend is not enabled in this build (use -tags gcp)")
}
