package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-chargeback/internal/allocation"
	"cloud-chargeback/internal/billing"
	"cloud-chargeback/internal/usage"
)

type fakeOracle struct {
	published map[time.Time]bool
	err       error
	asked     []time.Time
}

func (f *fakeOracle) IsPublished(_ context.Context, slice time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.asked = append(f.asked, slice)
	return f.published[slice], nil
}

type stubDirectory struct{}

func (stubDirectory) ActivePrincipalsForCluster(string) map[string]int { return nil }
func (stubDirectory) OwnerOfConnector(string) (string, bool)           { return "", false }
func (stubDirectory) OwnerOfStreamCluster(string) (string, bool)       { return "", false }
func (stubDirectory) AllPrincipals() []string                          { return nil }
func (stubDirectory) PrincipalsWithKeyInEnvironment(string) []string   { return nil }
func (stubDirectory) PrincipalsWithSchemaRegistryKey(string) []string  { return nil }

type stubUsage struct{}

func (stubUsage) SamplesFor(time.Time, string) []usage.Sample { return nil }

type mapBilling struct {
	items map[time.Time][]billing.LineItem
}

func (m *mapBilling) ItemsAt(slice time.Time) []billing.LineItem {
	return m.items[slice]
}

func clusterLinkItem(slice time.Time, cost string) billing.LineItem {
	return billing.LineItem{
		EnvironmentID: "env-1",
		ClusterID:     "lkc-1",
		ProductType:   "ClusterLink",
		TimeSlice:     slice,
		Cost:          decimal.RequireFromString(cost),
	}
}

type fixture struct {
	scheduler *Scheduler
	ledger    *allocation.Ledger
	dataset   *recordingDataset
}

func newFixture(oracle Oracle, now time.Time, items map[time.Time][]billing.LineItem) *fixture {
	return newFixtureWithConfig(DefaultConfig(epoch), oracle, now, items)
}

func newFixtureWithConfig(cfg Config, oracle Oracle, now time.Time, items map[time.Time][]billing.LineItem) *fixture {
	logger := discardLogger()
	ledger := allocation.NewLedger()
	engine := allocation.NewEngine(allocation.NewDefaultRegistry(logger), ledger,
		&mapBilling{items: items}, logger)

	ds := &recordingDataset{}
	windows := []*WindowManager{
		NewWindowManager("billing", epoch, DefaultWindowConfig(), ds, logger),
	}

	contexts := func() *allocation.Context {
		return &allocation.Context{Directory: stubDirectory{}, Usage: stubUsage{}, Logger: logger}
	}

	s := NewScheduler(cfg, oracle, windows, engine, contexts, logger)
	s.SetClock(func() time.Time { return now })
	return &fixture{scheduler: s, ledger: ledger, dataset: ds}
}

func TestAdvanceSelectsFirstUnpublishedHour(t *testing.T) {
	h := epoch
	oracle := &fakeOracle{published: map[time.Time]bool{
		h:                    true,
		h.Add(time.Hour):     true,
		h.Add(3 * time.Hour): true,
	}}
	now := h.Add(5*time.Hour + 48*time.Hour)
	f := newFixture(oracle, now, map[time.Time][]billing.LineItem{
		h.Add(2 * time.Hour): {clusterLinkItem(h.Add(2*time.Hour), "10")},
	})

	res, err := f.scheduler.Advance(context.Background())

	require.NoError(t, err)
	assert.True(t, res.Computed)
	assert.Equal(t, h.Add(2*time.Hour), res.Cursor,
		"first unpublished hour wins, later gaps wait their turn")
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0].SharedCost.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, StateAdvancing, res.State)
}

func TestAdvanceCaughtUpIsIdempotent(t *testing.T) {
	h := epoch
	published := make(map[time.Time]bool)
	boundary := h.Add(4 * time.Hour)
	for s := h; !s.After(boundary); s = s.Add(time.Hour) {
		published[s] = true
	}
	f := newFixture(&fakeOracle{published: published}, boundary.Add(48*time.Hour), nil)

	res, err := f.scheduler.Advance(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Computed, "fully published range: nothing to recompute")
	assert.Equal(t, boundary, res.Cursor)
	assert.Equal(t, StateCaughtUp, res.State)
	assert.Zero(t, f.ledger.Len())

	// A second advance with no new settled hour changes nothing.
	res2, err := f.scheduler.Advance(context.Background())
	require.NoError(t, err)
	assert.False(t, res2.Computed)
	assert.Equal(t, boundary, res2.Cursor)
	assert.Zero(t, f.ledger.Len())
}

func TestCursorMonotonicUntilRewindThreshold(t *testing.T) {
	// Nothing is ever published and the boundary is far away, so every
	// advance finds a gap one hour further along and never catches up.
	f := newFixture(&fakeOracle{}, epoch.Add(1000*time.Hour+48*time.Hour), nil)

	prev := f.scheduler.Cursor()
	for i := 0; i < 50; i++ {
		res, err := f.scheduler.Advance(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Cursor.After(prev), "cursor must be monotonic before the rewind trips")
		prev = res.Cursor
	}
	assert.Equal(t, epoch.Add(49*time.Hour), prev)

	// The 51st fruitless advance trips the safeguard and rescans from
	// the epoch.
	res, err := f.scheduler.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, epoch, res.Cursor, "rewind restarts the scan at the epoch")
}

func TestRewindRecomputationConservesLedgerTotal(t *testing.T) {
	// A rewind rescans hours this process already computed. Recomputing
	// those hours must replace their ledger rows; the allocated total
	// stays equal to the billed total.
	cfg := DefaultConfig(epoch)
	cfg.RewindThreshold = 1
	billed := decimal.NewFromInt(10)
	f := newFixtureWithConfig(cfg, &fakeOracle{}, epoch.Add(1000*time.Hour+48*time.Hour),
		map[time.Time][]billing.LineItem{epoch: {clusterLinkItem(epoch, "10")}})

	res, err := f.scheduler.Advance(context.Background())
	require.NoError(t, err)
	require.True(t, res.Computed)
	require.True(t, f.ledger.TotalAt(epoch).Equal(billed))

	// The second advance trips the threshold, rewinds to the epoch, and
	// recomputes the same hour.
	res, err = f.scheduler.Advance(context.Background())
	require.NoError(t, err)
	require.True(t, res.Computed)
	assert.Equal(t, epoch, res.Cursor)
	assert.True(t, f.ledger.TotalAt(epoch).Equal(billed),
		"ledger exposes %s for an hour billed at %s", f.ledger.TotalAt(epoch), billed)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0].SharedCost.Equal(billed))
}

func TestCatchingUpResetsRewindCounter(t *testing.T) {
	h := epoch
	boundary := h.Add(1 * time.Hour)
	f := newFixture(&fakeOracle{}, boundary.Add(48*time.Hour), nil)

	// Two advances reach the boundary; repeating caught-up advances must
	// never trip the rewind no matter how many there are.
	for i := 0; i < 60; i++ {
		res, err := f.scheduler.Advance(context.Background())
		require.NoError(t, err)
		assert.True(t, !res.Cursor.Before(epoch), "cursor never rewound")
	}
	assert.Equal(t, boundary, f.scheduler.Cursor())
}

func TestAdvanceAbortsOnOracleError(t *testing.T) {
	f := newFixture(&fakeOracle{err: errors.New("sink unreachable")}, epoch.Add(72*time.Hour), nil)
	before := f.scheduler.Cursor()

	res, err := f.scheduler.Advance(context.Background())

	require.Error(t, err)
	assert.False(t, res.Computed)
	assert.Equal(t, before, f.scheduler.Cursor(), "failed cycle leaves the cursor unchanged")
}

func TestAdvanceAbortsOnUpstreamFailure(t *testing.T) {
	f := newFixture(&fakeOracle{}, epoch.Add(72*time.Hour), nil)
	f.dataset.fail = errors.New("billing API down")
	before := f.scheduler.Cursor()

	res, err := f.scheduler.Advance(context.Background())

	require.Error(t, err)
	assert.False(t, res.Computed)
	assert.Equal(t, before, f.scheduler.Cursor())
	assert.Zero(t, f.ledger.Len(), "no partial hour may be computed")
}

func TestWindowLagReportsHoursBehindBoundary(t *testing.T) {
	f := newFixture(&fakeOracle{}, epoch.Add(48*time.Hour+10*time.Hour), nil)

	lags := f.scheduler.WindowLag()
	require.Contains(t, lags, "billing")
	assert.Equal(t, 10.0, lags["billing"])
}
