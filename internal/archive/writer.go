// Package archive persists published chargeback rows to Postgres for
// offline reporting. Archival is best-effort: a failed write is logged
// and never blocks or aborts a publish cycle.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"cloud-chargeback/internal/allocation"
)

const schema = `
CREATE TABLE IF NOT EXISTS chargeback_rows (
	cycle_id       UUID        NOT NULL,
	org_id         TEXT        NOT NULL,
	principal      TEXT        NOT NULL,
	time_slice     TIMESTAMPTZ NOT NULL,
	product_type   TEXT        NOT NULL,
	environment_id TEXT        NOT NULL,
	usage_cost     NUMERIC     NOT NULL,
	shared_cost    NUMERIC     NOT NULL,
	published_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org_id, principal, time_slice, product_type, environment_id)
)`

// Writer archives one organization's published rows.
type Writer struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dsn string, logger *slog.Logger) (*Writer, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	return &Writer{db: db, logger: logger}, nil
}

// EnsureSchema creates the archive table when missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating archive schema: %w", err)
	}
	return nil
}

// WriteCycle upserts every row published for one hour. Re-published
// hours overwrite their previous archive rows.
func (w *Writer) WriteCycle(ctx context.Context, orgID string, slice time.Time, rows []allocation.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cycleID := uuid.New()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chargeback_rows
			(cycle_id, org_id, principal, time_slice, product_type, environment_id, usage_cost, shared_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, principal, time_slice, product_type, environment_id)
		DO UPDATE SET cycle_id = EXCLUDED.cycle_id,
			usage_cost = EXCLUDED.usage_cost,
			shared_cost = EXCLUDED.shared_cost,
			published_at = now()
	`)
	if err != nil {
		return fmt.Errorf("preparing archive insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			cycleID, orgID, r.Key.Principal, r.Key.TimeSlice, r.Key.ProductType,
			r.Key.EnvironmentID, r.UsageCost.String(), r.SharedCost.String(),
		); err != nil {
			return fmt.Errorf("archiving row for %s: %w", r.Key.Principal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive transaction: %w", err)
	}
	w.logger.Debug("cycle archived", "cycle_id", cycleID, "slice", slice, "rows", len(rows))
	return nil
}

func (w *Writer) Close() error {
	return w.db.Close()
}
