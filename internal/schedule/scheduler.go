package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cloud-chargeback/internal/allocation"
	"cloud-chargeback/pkg/timeslice"
)

// State of the watermark state machine.
type State int

const (
	StateCaughtUp State = iota
	StateAdvancing
	StateRewinding
)

func (s State) String() string {
	switch s {
	case StateCaughtUp:
		return "caught_up"
	case StateAdvancing:
		return "advancing"
	case StateRewinding:
		return "rewinding"
	default:
		return "unknown"
	}
}

// Oracle answers whether an hour already carries a published marker in
// the metric sink.
type Oracle interface {
	IsPublished(ctx context.Context, slice time.Time) (bool, error)
}

// Config tunes the scheduler. Defaults preserve the production
// constants: billing settles with a two-day lag, and a full rewind
// fires after fifty advances that never catch up.
type Config struct {
	Epoch               time.Time
	SettlementLag       time.Duration
	RewindThreshold     int
	LedgerRetentionDays int
}

func DefaultConfig(epoch time.Time) Config {
	return Config{
		Epoch:               epoch,
		SettlementLag:       48 * time.Hour,
		RewindThreshold:     50,
		LedgerRetentionDays: 14,
	}
}

// Result describes one advance cycle. Computed is true when a fresh
// hour was computed and its rows should be (re)published; false means
// no gap moved and previously exposed samples must be cleared.
type Result struct {
	Cursor   time.Time
	Computed bool
	Rows     []allocation.Row
	State    State
}

// ContextFactory binds the current directory snapshot and usage window
// into a policy context for one compute pass.
type ContextFactory func() *allocation.Context

// Scheduler is the single writer of the cursor and the ledger. Each
// Advance scans forward from the cursor to the settled boundary, finds
// the first unpublished hour, refreshes the upstream windows to cover
// it, computes it, and moves the cursor there.
type Scheduler struct {
	mu           sync.Mutex
	cfg          Config
	cursor       time.Time
	resetCounter int
	state        State

	oracle   Oracle
	windows  []*WindowManager
	engine   *allocation.Engine
	contexts ContextFactory
	now      func() time.Time
	logger   *slog.Logger
}

func NewScheduler(cfg Config, oracle Oracle, windows []*WindowManager, engine *allocation.Engine, contexts ContextFactory, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		cursor:   rewoundCursor(cfg.Epoch),
		state:    StateAdvancing,
		oracle:   oracle,
		windows:  windows,
		engine:   engine,
		contexts: contexts,
		now:      time.Now,
		logger:   logger,
	}
}

// The cursor marks the last hour fully computed and exposed, so a
// rewind parks it one slice before the epoch.
func rewoundCursor(epoch time.Time) time.Time {
	return timeslice.HourOf(epoch).Add(-time.Hour)
}

// SetClock overrides the wall clock, for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Cursor returns the currently exposed hour.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// State returns the current state-machine state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Boundary is the most recent hour considered settled.
func (s *Scheduler) Boundary() time.Time {
	return timeslice.HourOf(s.now().Add(-s.cfg.SettlementLag))
}

// WindowLag reports, per source, how many hours the covered range
// trails the settled boundary. Feeds the catch-up status gauges.
func (s *Scheduler) WindowLag() map[string]float64 {
	boundary := s.Boundary()
	lags := make(map[string]float64, len(s.windows))
	for _, w := range s.windows {
		lag := boundary.Sub(w.LastAvailable()).Hours()
		if lag < 0 {
			lag = 0
		}
		lags[w.Name()] = lag
	}
	return lags
}

// Advance runs one cycle. On upstream failure the cycle aborts with the
// cursor unchanged; the next scrape retries.
func (s *Scheduler) Advance(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boundary := timeslice.HourOf(s.now().Add(-s.cfg.SettlementLag))

	// Safeguard against a publication check stuck on a false negative:
	// enough fruitless advances force a full rewind to the epoch.
	s.resetCounter++
	if s.resetCounter > s.cfg.RewindThreshold {
		s.state = StateRewinding
		s.logger.Warn("rewind threshold tripped, rescanning from epoch",
			"cursor", s.cursor, "epoch", s.cfg.Epoch, "threshold", s.cfg.RewindThreshold)
		s.cursor = rewoundCursor(s.cfg.Epoch)
		s.resetCounter = 0
	}

	candidate := s.cursor
	gap := false
	for h := timeslice.Next(s.cursor); !h.After(boundary); h = timeslice.Next(h) {
		published, err := s.oracle.IsPublished(ctx, h)
		if err != nil {
			s.state = StateAdvancing
			return Result{Cursor: s.cursor, State: s.state}, err
		}
		candidate = h
		if !published {
			gap = true
			break
		}
	}

	if !gap {
		// Every hour up to the boundary is already published. Move the
		// cursor over the published span without recomputation and make
		// sure no stale duplicate samples stay exposed.
		s.cursor = candidate
		s.state = StateCaughtUp
		s.resetCounter = 0
		return Result{Cursor: s.cursor, State: s.state}, nil
	}

	s.state = StateAdvancing

	// The three upstream reads are independent; refresh them in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.windows {
		w := w
		g.Go(func() error {
			return w.EnsureCoverage(gctx, candidate)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Cursor: s.cursor, State: s.state}, err
	}

	s.engine.ComputeHour(candidate, s.contexts())
	s.cursor = candidate
	if candidate.Equal(boundary) {
		s.resetCounter = 0
	}

	retention := candidate.AddDate(0, 0, -s.cfg.LedgerRetentionDays)
	if evicted := s.engine.Ledger().EvictBefore(retention); evicted > 0 {
		s.logger.Info("ledger rows evicted", "before", retention, "rows", evicted)
	}

	return Result{
		Cursor:   candidate,
		Computed: true,
		Rows:     s.engine.Ledger().RowsAt(candidate),
		State:    s.state,
	}, nil
}
