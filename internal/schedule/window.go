// Package schedule owns the incremental time-window machinery: per-source
// fetch/retention windows and the watermark scheduler that advances the
// exposed cursor through unpublished hours.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"cloud-chargeback/pkg/timeslice"
)

// Dataset is the windowed in-memory view a source feeds. Append fetches
// and merges [start, end); EvictBefore enforces retention.
type Dataset interface {
	Append(ctx context.Context, start, end time.Time) error
	EvictBefore(cutoff time.Time) int
}

// WindowConfig tunes one source's fetch and retention windows, in days.
type WindowConfig struct {
	FetchWithinDays int
	DaysPerQuery    int
	MaxDaysInMemory int
}

// DefaultWindowConfig matches the production tuning for all sources.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		FetchWithinDays: 2,
		DaysPerQuery:    7,
		MaxDaysInMemory: 14,
	}
}

// EffectiveWindow is derived from the last available date and the
// window tuning; it decides what to fetch next and what to evict.
type EffectiveWindow struct {
	FetchStart     time.Time
	FetchEnd       time.Time
	RetentionStart time.Time
}

// NextWindow computes the effective window following lastAvailable.
func NextWindow(lastAvailable time.Time, cfg WindowConfig) EffectiveWindow {
	fetchEnd := lastAvailable.AddDate(0, 0, cfg.DaysPerQuery)
	return EffectiveWindow{
		FetchStart:     lastAvailable,
		FetchEnd:       fetchEnd,
		RetentionStart: fetchEnd.AddDate(0, 0, -cfg.MaxDaysInMemory),
	}
}

// WindowManager tracks how far one source's dataset extends and fetches
// the next window whenever a target date comes within FetchWithinDays
// of the covered edge.
type WindowManager struct {
	name          string
	cfg           WindowConfig
	lastAvailable time.Time
	ds            Dataset
	logger        *slog.Logger
}

func NewWindowManager(name string, epoch time.Time, cfg WindowConfig, ds Dataset, logger *slog.Logger) *WindowManager {
	return &WindowManager{
		name:          name,
		cfg:           cfg,
		lastAvailable: timeslice.HourOf(epoch),
		ds:            ds,
		logger:        logger,
	}
}

// Name identifies the source for logs and status gauges.
func (w *WindowManager) Name() string {
	return w.name
}

// LastAvailable reports the exclusive end of the covered range.
func (w *WindowManager) LastAvailable() time.Time {
	return w.lastAvailable
}

// EnsureCoverage fetches forward until target is comfortably inside the
// covered range, evicting rows behind the retention start after each
// fetch. A no-op when target is already more than FetchWithinDays
// before the covered edge.
func (w *WindowManager) EnsureCoverage(ctx context.Context, target time.Time) error {
	target = timeslice.HourOf(target)

	for !target.Before(w.lastAvailable.AddDate(0, 0, -w.cfg.FetchWithinDays)) {
		win := NextWindow(w.lastAvailable, w.cfg)
		if err := w.ds.Append(ctx, win.FetchStart, win.FetchEnd); err != nil {
			return err
		}
		w.lastAvailable = win.FetchEnd
		evicted := w.ds.EvictBefore(win.RetentionStart)
		w.logger.Info("window advanced",
			"source", w.name,
			"fetch_start", win.FetchStart,
			"fetch_end", win.FetchEnd,
			"retention_start", win.RetentionStart,
			"evicted", evicted)
	}
	return nil
}
