// Package usage supplies per-hour, per-cluster, per-principal usage
// samples from the telemetry API and indexes them for allocation joins.
package usage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Metric names the allocation policies join on.
const (
	MetricRequestBytes  = "request_bytes"
	MetricResponseBytes = "response_bytes"
)

// Sample is one principal's metered usage on one cluster for one hour.
type Sample struct {
	TimeSlice   time.Time       `json:"time_slice"`
	ClusterID   string          `json:"cluster_id"`
	PrincipalID string          `json:"principal_id"`
	Metric      string          `json:"metric"`
	Value       decimal.Decimal `json:"value"`
}

// Source fetches usage samples for [start, end).
type Source interface {
	Fetch(ctx context.Context, start, end time.Time) ([]Sample, error)
}
