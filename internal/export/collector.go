// Package export publishes chargeback rows as time-travelling gauge
// samples and answers publication-status queries against the sink.
package export

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cloud-chargeback/internal/allocation"
)

const (
	CostMetricName      = "chargeback_cost"
	PublishedMetricName = "chargeback_published"
	StatusMetricName    = "chargeback_scrape_status"
)

// Observer is notified on every scrape of the sink, before the exposed
// samples are emitted. The org coordinator uses this to run an advance
// cycle so metric emission stays synchronized with the cursor.
type Observer interface {
	OnScrape(ctx context.Context)
}

// Collector is the metric sink for one organization. Cost samples are
// stamped with the cursor hour rather than wall-clock time, which lets
// backfilled hours land at the right point on a time-series graph. Each
// publish replaces the entire exported set, so stale label combinations
// never linger at old values.
type Collector struct {
	mu        sync.Mutex
	observers []Observer
	exported  []prometheus.Metric
	progress  map[string]float64

	costDesc   *prometheus.Desc
	markerDesc *prometheus.Desc
	statusDesc *prometheus.Desc

	scrapeTimeout time.Duration
	logger        *slog.Logger
}

func NewCollector(orgID string, scrapeTimeout time.Duration, logger *slog.Logger) *Collector {
	constLabels := prometheus.Labels{"org": orgID}
	return &Collector{
		progress: make(map[string]float64),
		costDesc: prometheus.NewDesc(
			CostMetricName,
			"Allocated cost for one principal, product type, and hour.",
			[]string{"principal", "product_type", "environment_id", "cost_type"},
			constLabels,
		),
		markerDesc: prometheus.NewDesc(
			PublishedMetricName,
			"Marker stamped at each hour whose chargeback rows are published.",
			nil,
			constLabels,
		),
		statusDesc: prometheus.NewDesc(
			StatusMetricName,
			"Hours each upstream object type trails the settled boundary.",
			[]string{"object_type"},
			constLabels,
		),
		scrapeTimeout: scrapeTimeout,
		logger:        logger,
	}
}

// Attach subscribes an observer to scrape events.
func (c *Collector) Attach(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.costDesc
	ch <- c.markerDesc
	ch <- c.statusDesc
}

// Collect notifies observers, then emits the current exported set.
// Observers mutate that set through PublishHour and Clear, so the
// notification runs outside the collector lock.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.scrapeTimeout)
	defer cancel()

	c.mu.Lock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, o := range observers {
		o.OnScrape(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.exported {
		ch <- m
	}
	for objectType, v := range c.progress {
		ch <- prometheus.MustNewConstMetric(c.statusDesc, prometheus.GaugeValue, v, objectType)
	}
}

// PublishHour replaces the exported set with slice's rows, each stamped
// at the slice hour, plus the published marker for that hour.
func (c *Collector) PublishHour(slice time.Time, rows []allocation.Row) {
	ms := make([]prometheus.Metric, 0, 2*len(rows)+1)
	for _, r := range rows {
		usageV, _ := r.UsageCost.Float64()
		sharedV, _ := r.SharedCost.Float64()
		ms = append(ms,
			prometheus.NewMetricWithTimestamp(slice, prometheus.MustNewConstMetric(
				c.costDesc, prometheus.GaugeValue, usageV,
				r.Key.Principal, r.Key.ProductType, r.Key.EnvironmentID, "usage")),
			prometheus.NewMetricWithTimestamp(slice, prometheus.MustNewConstMetric(
				c.costDesc, prometheus.GaugeValue, sharedV,
				r.Key.Principal, r.Key.ProductType, r.Key.EnvironmentID, "shared")),
		)
	}
	ms = append(ms, prometheus.NewMetricWithTimestamp(slice,
		prometheus.MustNewConstMetric(c.markerDesc, prometheus.GaugeValue, 1)))

	c.mu.Lock()
	c.exported = ms
	c.mu.Unlock()

	c.logger.Info("hour published", "slice", slice, "rows", len(rows))
}

// Clear drops all previously exported cost samples, preventing stale
// duplicates from being republished when no new hour was computed.
func (c *Collector) Clear() {
	c.mu.Lock()
	c.exported = nil
	c.mu.Unlock()
}

// SetProgress records one object type's catch-up lag gauge.
func (c *Collector) SetProgress(objectType string, hoursBehind float64) {
	c.mu.Lock()
	c.progress[objectType] = hoursBehind
	c.mu.Unlock()
}

// ExportedCount reports the number of currently exposed samples.
func (c *Collector) ExportedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exported)
}
