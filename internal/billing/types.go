// Package billing supplies billing line items for explicit time ranges.
// Upstream exports bill per product per day-range; items are pre-split
// into equal per-hour fragments before the allocation engine sees them.
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one hour of cost for one (environment, cluster, product,
// productType). TimeSlice is always a whole UTC hour.
type LineItem struct {
	EnvironmentID string          `json:"environment_id"`
	ClusterID     string          `json:"cluster_id"`
	ClusterName   string          `json:"cluster_name"`
	ProductName   string          `json:"product_name"`
	ProductType   string          `json:"product_type"`
	TimeSlice     time.Time       `json:"time_slice"`
	Cost          decimal.Decimal `json:"cost"`
}

// ExportRow is a raw export record covering a native [Start, End) date
// range with a single total cost, before hourly splitting.
type ExportRow struct {
	EnvironmentID string
	ClusterID     string
	ClusterName   string
	ProductName   string
	ProductType   string
	Start         time.Time
	End           time.Time
	TotalCost     decimal.Decimal
}

// Source fetches pre-split hourly line items for [start, end).
type Source interface {
	Fetch(ctx context.Context, start, end time.Time) ([]LineItem, error)
}
