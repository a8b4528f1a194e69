package usage

import (
	"context"
	"sync"
	"time"

	cberrors "cloud-chargeback/pkg/errors"
	"cloud-chargeback/pkg/timeslice"
)

type hourCluster struct {
	slice   time.Time
	cluster string
}

// Window is the in-memory usage dataset, indexed by (hour, cluster) for
// the allocation engine's joins. Append and evict are driven by the
// window manager.
type Window struct {
	mu     sync.RWMutex
	source Source
	index  map[hourCluster][]Sample
}

func NewWindow(source Source) *Window {
	return &Window{
		source: source,
		index:  make(map[hourCluster][]Sample),
	}
}

// Append fetches [start, end) from the source and merges it in.
func (w *Window) Append(ctx context.Context, start, end time.Time) error {
	samples, err := w.source.Fetch(ctx, start, end)
	if err != nil {
		return cberrors.NewUpstreamUnavailable("usage-metrics", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range samples {
		s.TimeSlice = timeslice.HourOf(s.TimeSlice)
		key := hourCluster{slice: s.TimeSlice, cluster: s.ClusterID}
		w.index[key] = append(w.index[key], s)
	}
	return nil
}

// EvictBefore drops all samples earlier than cutoff.
func (w *Window) EvictBefore(cutoff time.Time) int {
	cutoff = timeslice.HourOf(cutoff)
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, samples := range w.index {
		if key.slice.Before(cutoff) {
			removed += len(samples)
			delete(w.index, key)
		}
	}
	return removed
}

// SamplesFor returns the samples for one (hour, cluster) pair.
func (w *Window) SamplesFor(slice time.Time, clusterID string) []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index[hourCluster{slice: timeslice.HourOf(slice), cluster: clusterID}]
}

// Len reports the number of samples held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, samples := range w.index {
		n += len(samples)
	}
	return n
}
