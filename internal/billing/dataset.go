package billing

import (
	"context"
	"sync"
	"time"

	cberrors "cloud-chargeback/pkg/errors"
	"cloud-chargeback/pkg/timeslice"
)

// Dataset is the in-memory billing window, indexed by hourly slice for
// the allocation engine's per-hour joins. Append and evict are driven
// by the window manager; reads are concurrent.
type Dataset struct {
	mu     sync.RWMutex
	source Source
	byHour map[time.Time][]LineItem
}

func NewDataset(source Source) *Dataset {
	return &Dataset{
		source: source,
		byHour: make(map[time.Time][]LineItem),
	}
}

// Append fetches [start, end) from the source and merges it in.
func (d *Dataset) Append(ctx context.Context, start, end time.Time) error {
	items, err := d.source.Fetch(ctx, start, end)
	if err != nil {
		return cberrors.NewUpstreamUnavailable("billing", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, it := range items {
		h := timeslice.HourOf(it.TimeSlice)
		it.TimeSlice = h
		d.byHour[h] = append(d.byHour[h], it)
	}
	return nil
}

// EvictBefore drops all hours earlier than cutoff, returning the number
// of line items removed.
func (d *Dataset) EvictBefore(cutoff time.Time) int {
	cutoff = timeslice.HourOf(cutoff)
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for h, items := range d.byHour {
		if h.Before(cutoff) {
			removed += len(items)
			delete(d.byHour, h)
		}
	}
	return removed
}

// ItemsAt returns the line items for one hourly slice.
func (d *Dataset) ItemsAt(slice time.Time) []LineItem {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byHour[timeslice.HourOf(slice)]
}

// Len reports the number of line items held.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, items := range d.byHour {
		n += len(items)
	}
	return n
}
