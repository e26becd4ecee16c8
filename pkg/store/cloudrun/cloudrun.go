// Package cloudrun provides automatic store selection for Cloud Run.
// Detects Cloud Run via K_SERVICE env var and tries Datastore first,
// falling back to local files if unavailable.
package cloudrun

import (
	"context"
	"log/slog"
	"os"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/datastore"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/localfs"
)

// New creates a store for Cloud Run environments.
// In Cloud Run: tries Datastore, falls back to local files on error.
// Outside Cloud Run: uses local files under dir (OS cache dir when empty).
func New(ctx context.Context, cacheID, dir string, c compress.Compressor) (store.Store, error) {
	if os.Getenv("K_SERVICE") != "" {
		p, err := datastore.New(ctx, cacheID, c)
		if err == nil {
			return p, nil
		}
		slog.Warn("datastore unavailable, falling back to local files", "cache_id", cacheID, "error", err)
	}
	return localfs.New(cacheID, dir, localfs.WithCompression(c))
}
