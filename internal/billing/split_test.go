package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

func exportRow(start, end time.Time, total string) ExportRow {
	return ExportRow{
		EnvironmentID: "env-1",
		ClusterID:     "lkc-1",
		ClusterName:   "orders",
		ProductName:   "kafka",
		ProductType:   "KafkaBase",
		Start:         start,
		End:           end,
		TotalCost:     decimal.RequireFromString(total),
	}
}

func TestSplitHourlyEvenFragments(t *testing.T) {
	items := SplitHourly(exportRow(day, day.AddDate(0, 0, 1), "48"))

	require.Len(t, items, 24)
	for i, it := range items {
		assert.Equal(t, day.Add(time.Duration(i)*time.Hour), it.TimeSlice)
		assert.True(t, it.Cost.Equal(decimal.NewFromInt(2)), "hour %d got %s", i, it.Cost)
	}
}

func TestSplitHourlyConservesAwkwardDivisions(t *testing.T) {
	// 100 over 24 hours does not divide evenly at any finite precision.
	// The fragments must still sum back to the original total exactly.
	items := SplitHourly(exportRow(day, day.AddDate(0, 0, 1), "100"))

	require.Len(t, items, 24)
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Cost)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(100)), "fragments sum to %s", sum)
}

func TestSplitHourlyEmptyRange(t *testing.T) {
	assert.Nil(t, SplitHourly(exportRow(day, day, "10")))
}

func TestSplitHourlyCarriesRowIdentity(t *testing.T) {
	items := SplitHourly(exportRow(day, day.Add(2*time.Hour), "6"))

	require.Len(t, items, 2)
	assert.Equal(t, "env-1", items[0].EnvironmentID)
	assert.Equal(t, "lkc-1", items[0].ClusterID)
	assert.Equal(t, "KafkaBase", items[0].ProductType)
}

type stubSource struct {
	items []LineItem
	err   error
}

func (s *stubSource) Fetch(context.Context, time.Time, time.Time) ([]LineItem, error) {
	return s.items, s.err
}

func TestDatasetAppendIndexesByHour(t *testing.T) {
	src := &stubSource{items: SplitHourly(exportRow(day, day.Add(3*time.Hour), "9"))}
	ds := NewDataset(src)

	require.NoError(t, ds.Append(context.Background(), day, day.Add(3*time.Hour)))

	assert.Equal(t, 3, ds.Len())
	got := ds.ItemsAt(day.Add(time.Hour))
	require.Len(t, got, 1)
	assert.True(t, got[0].Cost.Equal(decimal.NewFromInt(3)))
	assert.Empty(t, ds.ItemsAt(day.Add(5*time.Hour)))
}

func TestDatasetEvictBefore(t *testing.T) {
	src := &stubSource{items: SplitHourly(exportRow(day, day.Add(4*time.Hour), "8"))}
	ds := NewDataset(src)
	require.NoError(t, ds.Append(context.Background(), day, day.Add(4*time.Hour)))

	removed := ds.EvictBefore(day.Add(2 * time.Hour))

	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, ds.Len())
	assert.Empty(t, ds.ItemsAt(day))
	assert.Len(t, ds.ItemsAt(day.Add(3*time.Hour)), 1)
}

func TestDatasetAppendPropagatesFetchError(t *testing.T) {
	ds := NewDataset(&stubSource{err: errors.New("export API down")})

	err := ds.Append(context.Background(), day, day.Add(time.Hour))

	require.Error(t, err)
	assert.Zero(t, ds.Len())
}
