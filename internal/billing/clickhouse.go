package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
)

// ClickHouseConfig holds connection settings for the billing export
// warehouse.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Table    string
	Debug    bool
}

// DefaultClickHouseConfig returns default development configuration.
func DefaultClickHouseConfig() *ClickHouseConfig {
	return &ClickHouseConfig{
		Host:     "localhost",
		Port:     9000,
		Database: "billing",
		Username: "default",
		Password: "",
		Table:    "billing_export",
		Debug:    false,
	}
}

// ClickHouseSource reads daily billing export rows from ClickHouse and
// pre-splits them into hourly line items.
type ClickHouseSource struct {
	conn clickhouse.Conn
	cfg  *ClickHouseConfig
}

func NewClickHouseSource(cfg *ClickHouseConfig) (*ClickHouseSource, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return &ClickHouseSource{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity.
func (s *ClickHouseSource) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection.
func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}

// Fetch returns hourly line items whose native date ranges intersect
// [start, end). Rows are split across their own covered hours first and
// fragments outside [start, end) are dropped.
func (s *ClickHouseSource) Fetch(ctx context.Context, start, end time.Time) ([]LineItem, error) {
	query := fmt.Sprintf(`
		SELECT environment_id, cluster_id, cluster_name, product_name,
			   product_type, range_start, range_end, total_cost
		FROM %s
		WHERE range_start < ? AND range_end > ?
		ORDER BY range_start, cluster_id, product_type
	`, s.cfg.Table)

	rows, err := s.conn.Query(ctx, query, end, start)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing export: %w", err)
	}
	defer rows.Close()

	var exports []ExportRow
	for rows.Next() {
		var r ExportRow
		var cost decimal.Decimal
		if err := rows.Scan(
			&r.EnvironmentID, &r.ClusterID, &r.ClusterName, &r.ProductName,
			&r.ProductType, &r.Start, &r.End, &cost,
		); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		r.TotalCost = cost
		exports = append(exports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export rows: %w", err)
	}

	var items []LineItem
	for _, it := range SplitHourlyAll(exports) {
		if it.TimeSlice.Before(start) || !it.TimeSlice.Before(end) {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
