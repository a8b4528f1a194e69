package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cberrors "cloud-chargeback/pkg/errors"
)

// Loader produces a full directory listing from an upstream API.
type Loader interface {
	Load(ctx context.Context) (Contents, error)
}

// Directory holds the current snapshot and refreshes it through a
// Loader, at most once per minimum interval. Reads never block on a
// refresh in progress; they see the previous snapshot.
type Directory struct {
	mu          sync.RWMutex
	loader      Loader
	snapshot    *Snapshot
	minInterval time.Duration
	lastRefresh time.Time
	logger      *slog.Logger
}

func New(loader Loader, minInterval time.Duration, logger *slog.Logger) *Directory {
	return &Directory{
		loader:      loader,
		snapshot:    NewSnapshot(Contents{}),
		minInterval: minInterval,
		logger:      logger,
	}
}

// Refresh reloads the snapshot unless the previous load is still within
// the minimum interval.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.RLock()
	fresh := time.Since(d.lastRefresh) < d.minInterval
	d.mu.RUnlock()
	if fresh {
		return nil
	}

	contents, err := d.loader.Load(ctx)
	if err != nil {
		return cberrors.NewUpstreamUnavailable("directory", err)
	}
	if contents.FetchedAt.IsZero() {
		contents.FetchedAt = time.Now().UTC()
	}

	d.mu.Lock()
	d.snapshot = NewSnapshot(contents)
	d.lastRefresh = time.Now()
	d.mu.Unlock()

	d.logger.Info("directory snapshot refreshed",
		"principals", len(contents.Principals),
		"clusters", len(contents.Clusters),
		"api_keys", len(contents.APIKeys),
		"connectors", len(contents.Connectors),
		"stream_clusters", len(contents.StreamClusters))
	return nil
}

// Snapshot returns the current immutable snapshot.
func (d *Directory) Snapshot() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}
