package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fetchCall struct {
	start, end time.Time
}

type recordingDataset struct {
	fetches   []fetchCall
	evictions []time.Time
	fail      error
}

func (r *recordingDataset) Append(_ context.Context, start, end time.Time) error {
	if r.fail != nil {
		return r.fail
	}
	r.fetches = append(r.fetches, fetchCall{start: start, end: end})
	return nil
}

func (r *recordingDataset) EvictBefore(cutoff time.Time) int {
	r.evictions = append(r.evictions, cutoff)
	return 0
}

func TestNextWindowMath(t *testing.T) {
	win := NextWindow(epoch, DefaultWindowConfig())

	assert.Equal(t, epoch, win.FetchStart)
	assert.Equal(t, epoch.AddDate(0, 0, 7), win.FetchEnd)
	assert.Equal(t, epoch.AddDate(0, 0, -7), win.RetentionStart,
		"retention start is fetch end minus max days in memory")
}

func TestEnsureCoverageFetchesOneWindow(t *testing.T) {
	ds := &recordingDataset{}
	w := NewWindowManager("billing", epoch, DefaultWindowConfig(), ds, discardLogger())

	require.NoError(t, w.EnsureCoverage(context.Background(), epoch.Add(time.Hour)))

	require.Len(t, ds.fetches, 1)
	assert.Equal(t, epoch, ds.fetches[0].start)
	assert.Equal(t, epoch.AddDate(0, 0, 7), ds.fetches[0].end)
	assert.Equal(t, epoch.AddDate(0, 0, 7), w.LastAvailable())
	require.Len(t, ds.evictions, 1)
	assert.Equal(t, epoch.AddDate(0, 0, -7), ds.evictions[0])
}

func TestEnsureCoverageCatchesUpInChunks(t *testing.T) {
	ds := &recordingDataset{}
	w := NewWindowManager("usage", epoch, DefaultWindowConfig(), ds, discardLogger())

	// 16 days ahead: three 7-day fetches bring coverage to day 21, and
	// the target sits more than FetchWithinDays inside it.
	require.NoError(t, w.EnsureCoverage(context.Background(), epoch.AddDate(0, 0, 16)))

	require.Len(t, ds.fetches, 3)
	assert.Equal(t, epoch.AddDate(0, 0, 14), ds.fetches[2].start)
	assert.Equal(t, epoch.AddDate(0, 0, 21), w.LastAvailable())
}

func TestEnsureCoverageNoOpWhenCovered(t *testing.T) {
	ds := &recordingDataset{}
	w := NewWindowManager("billing", epoch, DefaultWindowConfig(), ds, discardLogger())
	require.NoError(t, w.EnsureCoverage(context.Background(), epoch))

	fetched := len(ds.fetches)
	// Well inside the covered range, beyond the fetch-within margin.
	require.NoError(t, w.EnsureCoverage(context.Background(), epoch.Add(time.Hour)))
	assert.Len(t, ds.fetches, fetched, "covered target must not refetch")
}

func TestEnsureCoveragePropagatesFetchErrors(t *testing.T) {
	ds := &recordingDataset{fail: errors.New("boom")}
	w := NewWindowManager("billing", epoch, DefaultWindowConfig(), ds, discardLogger())

	err := w.EnsureCoverage(context.Background(), epoch)
	require.Error(t, err)
	assert.Equal(t, epoch, w.LastAvailable(), "failed fetch must not advance coverage")
}
