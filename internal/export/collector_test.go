package export

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-chargeback/internal/allocation"
)

var slice = time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRow(principal, productType string, usage, shared int64) allocation.Row {
	return allocation.Row{
		Key: allocation.Key{
			Principal:     principal,
			TimeSlice:     slice,
			ProductType:   productType,
			EnvironmentID: "env-1",
		},
		UsageCost:  decimal.NewFromInt(usage),
		SharedCost: decimal.NewFromInt(shared),
	}
}

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestPublishHourStampsSamplesAtSlice(t *testing.T) {
	c := NewCollector("org-1", time.Second, discardLogger())
	c.PublishHour(slice, []allocation.Row{
		testRow("sa-1", "KafkaBase", 7, 3),
	})

	families := gather(t, c)

	costs := families[CostMetricName]
	require.NotNil(t, costs)
	require.Len(t, costs.GetMetric(), 2, "one usage and one shared sample per row")
	for _, m := range costs.GetMetric() {
		assert.Equal(t, slice.UnixMilli(), m.GetTimestampMs(),
			"samples carry the computed hour, not scrape time")
		assert.Equal(t, "org-1", labelValue(m, "org"))
		assert.Equal(t, "sa-1", labelValue(m, "principal"))
		switch labelValue(m, "cost_type") {
		case "usage":
			assert.Equal(t, 7.0, m.GetGauge().GetValue())
		case "shared":
			assert.Equal(t, 3.0, m.GetGauge().GetValue())
		default:
			t.Fatalf("unexpected cost_type %q", labelValue(m, "cost_type"))
		}
	}

	marker := families[PublishedMetricName]
	require.NotNil(t, marker)
	require.Len(t, marker.GetMetric(), 1)
	assert.Equal(t, 1.0, marker.GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, slice.UnixMilli(), marker.GetMetric()[0].GetTimestampMs())
}

func TestPublishHourReplacesPreviousSet(t *testing.T) {
	c := NewCollector("org-1", time.Second, discardLogger())
	c.PublishHour(slice, []allocation.Row{
		testRow("sa-1", "KafkaBase", 7, 3),
		testRow("sa-2", "KafkaStorage", 5, 0),
	})

	next := slice.Add(time.Hour)
	c.PublishHour(next, []allocation.Row{testRow("sa-1", "KafkaBase", 2, 1)})

	families := gather(t, c)
	costs := families[CostMetricName]
	require.NotNil(t, costs)
	require.Len(t, costs.GetMetric(), 2, "earlier hour's samples must not linger")
	for _, m := range costs.GetMetric() {
		assert.Equal(t, next.UnixMilli(), m.GetTimestampMs())
	}
}

func TestClearDropsExportedSamples(t *testing.T) {
	c := NewCollector("org-1", time.Second, discardLogger())
	c.PublishHour(slice, []allocation.Row{testRow("sa-1", "KafkaBase", 7, 3)})
	require.NotZero(t, c.ExportedCount())

	c.Clear()

	families := gather(t, c)
	assert.NotContains(t, families, CostMetricName)
	assert.NotContains(t, families, PublishedMetricName)
	assert.Zero(t, c.ExportedCount())
}

func TestProgressGauges(t *testing.T) {
	c := NewCollector("org-1", time.Second, discardLogger())
	c.SetProgress("billing", 12)
	c.SetProgress("usage", 0)

	families := gather(t, c)
	status := families[StatusMetricName]
	require.NotNil(t, status)
	require.Len(t, status.GetMetric(), 2)
	values := make(map[string]float64)
	for _, m := range status.GetMetric() {
		values[labelValue(m, "object_type")] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"billing": 12, "usage": 0}, values)
}

type publishOnScrape struct {
	c    *Collector
	hits int
}

func (p *publishOnScrape) OnScrape(context.Context) {
	p.hits++
	p.c.PublishHour(slice, []allocation.Row{testRow("sa-1", "KafkaBase", 4, 0)})
}

func TestObserverRunsBeforeEmission(t *testing.T) {
	// The observer publishes during the scrape; the very same scrape must
	// already expose what it published.
	c := NewCollector("org-1", time.Second, discardLogger())
	o := &publishOnScrape{c: c}
	c.Attach(o)

	families := gather(t, c)

	assert.Equal(t, 1, o.hits)
	require.Contains(t, families, CostMetricName)
	assert.Len(t, families[CostMetricName].GetMetric(), 2)
}
