package allocation

import (
	"log/slog"
	"time"

	"cloud-chargeback/internal/billing"
	"cloud-chargeback/pkg/timeslice"
)

// BillingView exposes the billing window for the hour being computed.
type BillingView interface {
	ItemsAt(slice time.Time) []billing.LineItem
}

// Engine joins one hour of billing line items with usage metrics and
// the ownership directory through the policy registry, folding every
// contribution into the ledger. Computing an hour replaces whatever
// the ledger held for that slice, so recomputation after a rewind is
// a clean redo rather than a double-count.
type Engine struct {
	registry *Registry
	ledger   *Ledger
	billing  BillingView
	logger   *slog.Logger
}

func NewEngine(registry *Registry, ledger *Ledger, billingView BillingView, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		ledger:   ledger,
		billing:  billingView,
		logger:   logger,
	}
}

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// ComputeHour allocates every billing line item at slice. A failure in
// one row's policy is logged and that row skipped; the rest of the hour
// still computes.
func (e *Engine) ComputeHour(slice time.Time, pc *Context) {
	slice = timeslice.HourOf(slice)
	items := e.billing.ItemsAt(slice)

	if cleared := e.ledger.ClearAt(slice); cleared > 0 {
		e.logger.Info("replacing previously computed hour", "slice", slice, "rows", cleared)
	}

	computed := 0
	for _, item := range items {
		contribs, ok := e.allocate(pc, item)
		if !ok {
			continue
		}
		for _, c := range contribs {
			key := Key{
				Principal:     c.Principal,
				TimeSlice:     slice,
				ProductType:   item.ProductType,
				EnvironmentID: item.EnvironmentID,
			}
			if err := e.ledger.Accumulate(key, c.UsageDelta, c.SharedDelta); err != nil {
				e.logger.Error("dropping invalid contribution",
					"principal", c.Principal, "product_type", item.ProductType, "error", err)
			}
		}
		computed++
	}

	e.logger.Info("hour computed",
		"slice", slice, "billing_rows", len(items), "allocated_rows", computed)
}

// allocate runs the policy for one line item, isolating panics so a
// single bad row cannot fail the hour.
func (e *Engine) allocate(pc *Context, item billing.LineItem) (contribs []Contribution, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("allocation policy failed, skipping billing row",
				"product_type", item.ProductType, "cluster", item.ClusterID, "panic", r)
			contribs, ok = nil, false
		}
	}()

	policy := e.registry.Lookup(item.ProductType)
	return policy(pc, item), true
}
