package billing

import (
	"github.com/shopspring/decimal"

	"cloud-chargeback/pkg/timeslice"
)

// SplitHourly expands a raw export row into equal per-hour line items
// across its native [Start, End) range. The last fragment absorbs any
// division remainder so the fragments always sum to TotalCost exactly.
func SplitHourly(row ExportRow) []LineItem {
	hours := timeslice.Hours(row.Start, row.End)
	if len(hours) == 0 {
		return nil
	}

	n := decimal.NewFromInt(int64(len(hours)))
	share := row.TotalCost.Div(n)

	items := make([]LineItem, 0, len(hours))
	var distributed decimal.Decimal
	for i, h := range hours {
		cost := share
		if i == len(hours)-1 {
			cost = row.TotalCost.Sub(distributed)
		} else {
			distributed = distributed.Add(share)
		}
		items = append(items, LineItem{
			EnvironmentID: row.EnvironmentID,
			ClusterID:     row.ClusterID,
			ClusterName:   row.ClusterName,
			ProductName:   row.ProductName,
			ProductType:   row.ProductType,
			TimeSlice:     h,
			Cost:          cost,
		})
	}
	return items
}

// SplitHourlyAll expands a batch of export rows.
func SplitHourlyAll(rows []ExportRow) []LineItem {
	var items []LineItem
	for _, r := range rows {
		items = append(items, SplitHourly(r)...)
	}
	return items
}
