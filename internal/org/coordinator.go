// Package org wires one organization's chargeback instance: directory,
// billing and usage windows, allocation engine, watermark scheduler,
// and metric exporter. Organizations are fully independent; each runs
// its own instance with no shared mutable state.
package org

import (
	"context"
	"log/slog"
	"sync"

	"cloud-chargeback/internal/archive"
	"cloud-chargeback/internal/export"
	"cloud-chargeback/internal/schedule"
)

// Coordinator is the scrape observer for one organization. Each scrape
// drives exactly one advance cycle; at most one is ever in flight, and
// an overlapping scrape sees the previous snapshot untouched.
type Coordinator struct {
	ID string

	scheduler *schedule.Scheduler
	collector *export.Collector
	archive   *archive.Writer
	logger    *slog.Logger

	busy sync.Mutex
}

func NewCoordinator(id string, scheduler *schedule.Scheduler, collector *export.Collector, archiveWriter *archive.Writer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ID:        id,
		scheduler: scheduler,
		collector: collector,
		archive:   archiveWriter,
		logger:    logger,
	}
}

// OnScrape runs one advance-and-publish cycle. Upstream failures abort
// the cycle with the cursor unchanged; the next scrape retries.
func (c *Coordinator) OnScrape(ctx context.Context) {
	if !c.busy.TryLock() {
		c.logger.Debug("advance already in flight, serving previous snapshot")
		return
	}
	defer c.busy.Unlock()

	res, err := c.scheduler.Advance(ctx)
	if err != nil {
		c.logger.Error("advance cycle aborted", "org", c.ID, "cursor", res.Cursor, "error", err)
		return
	}

	for objectType, lag := range c.scheduler.WindowLag() {
		c.collector.SetProgress(objectType, lag)
	}

	if !res.Computed {
		c.collector.Clear()
		return
	}

	c.collector.PublishHour(res.Cursor, res.Rows)
	if c.archive != nil {
		if err := c.archive.WriteCycle(ctx, c.ID, res.Cursor, res.Rows); err != nil {
			c.logger.Error("archiving published rows failed", "org", c.ID, "error", err)
		}
	}
}
