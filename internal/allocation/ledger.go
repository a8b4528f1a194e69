// Package allocation is the chargeback core: a decimal cost ledger, the
// per-product-type allocation policies, and the engine that joins one
// hour of billing data with usage metrics and the ownership directory.
package allocation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cloud-chargeback/pkg/timeslice"
)

// Key uniquely identifies a chargeback row. All four parts are required;
// no two rows may share a key.
type Key struct {
	Principal     string
	TimeSlice     time.Time
	ProductType   string
	EnvironmentID string
}

// Row is one principal's accumulated cost for one hour of one product
// in one environment. Costs start at zero and only ever grow by
// non-negative contributions.
type Row struct {
	Key        Key
	UsageCost  decimal.Decimal
	SharedCost decimal.Decimal
}

// Cost returns usage plus shared cost.
func (r Row) Cost() decimal.Decimal {
	return r.UsageCost.Add(r.SharedCost)
}

// Ledger is the keyed accumulator for chargeback rows. Accumulation is
// additive and commutative; rows are created lazily on first
// contribution and retained until evicted by the retention window.
type Ledger struct {
	mu   sync.RWMutex
	rows map[Key]*Row
}

func NewLedger() *Ledger {
	return &Ledger{rows: make(map[Key]*Row)}
}

// Accumulate folds a contribution into the row for key, creating the
// row if needed. Negative deltas are rejected: money is only ever
// redistributed, never destroyed.
func (l *Ledger) Accumulate(key Key, usageDelta, sharedDelta decimal.Decimal) error {
	if usageDelta.IsNegative() || sharedDelta.IsNegative() {
		return fmt.Errorf("negative contribution for principal %s: usage=%s shared=%s",
			key.Principal, usageDelta, sharedDelta)
	}
	key.TimeSlice = timeslice.HourOf(key.TimeSlice)

	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key]
	if !ok {
		row = &Row{Key: key}
		l.rows[key] = row
	}
	row.UsageCost = row.UsageCost.Add(usageDelta)
	row.SharedCost = row.SharedCost.Add(sharedDelta)
	return nil
}

// ClearAt drops all rows for one hourly slice, returning how many were
// removed. Recomputing an hour must replace its rows, never add to
// them, or the published sum drifts above the billed sum.
func (l *Ledger) ClearAt(slice time.Time) int {
	slice = timeslice.HourOf(slice)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key := range l.rows {
		if key.TimeSlice.Equal(slice) {
			delete(l.rows, key)
			removed++
		}
	}
	return removed
}

// RowsAt returns copies of all rows for one hourly slice, in a
// deterministic order.
func (l *Ledger) RowsAt(slice time.Time) []Row {
	slice = timeslice.HourOf(slice)

	l.mu.RLock()
	out := make([]Row, 0)
	for key, row := range l.rows {
		if key.TimeSlice.Equal(slice) {
			out = append(out, *row)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.EnvironmentID != b.EnvironmentID {
			return a.EnvironmentID < b.EnvironmentID
		}
		if a.ProductType != b.ProductType {
			return a.ProductType < b.ProductType
		}
		return a.Principal < b.Principal
	})
	return out
}

// TotalAt sums usage plus shared cost over all rows for one slice.
func (l *Ledger) TotalAt(slice time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, row := range l.RowsAt(slice) {
		total = total.Add(row.Cost())
	}
	return total
}

// EvictBefore drops rows older than cutoff, returning how many were
// removed.
func (l *Ledger) EvictBefore(cutoff time.Time) int {
	cutoff = timeslice.HourOf(cutoff)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key := range l.rows {
		if key.TimeSlice.Before(cutoff) {
			delete(l.rows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of rows held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}
