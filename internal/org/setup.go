package org

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud-chargeback/internal/allocation"
	"cloud-chargeback/internal/archive"
	"cloud-chargeback/internal/billing"
	"cloud-chargeback/internal/config"
	"cloud-chargeback/internal/directory"
	"cloud-chargeback/internal/export"
	"cloud-chargeback/internal/schedule"
	"cloud-chargeback/internal/usage"
	"cloud-chargeback/pkg/platform"
)

// Instance bundles everything one organization runs.
type Instance struct {
	ID          string
	Coordinator *Coordinator
	Collector   *export.Collector
	Scheduler   *schedule.Scheduler

	engine   *allocation.Engine
	windows  []*schedule.WindowManager
	contexts schedule.ContextFactory
	closers  []func() error
}

// ComputeOnce fetches coverage for one hour and computes its
// allocation without publishing. Debug path for the compute command.
func (i *Instance) ComputeOnce(ctx context.Context, slice time.Time) ([]allocation.Row, error) {
	for _, w := range i.windows {
		if err := w.EnsureCoverage(ctx, slice); err != nil {
			return nil, err
		}
	}
	i.engine.ComputeHour(slice, i.contexts())
	return i.engine.Ledger().RowsAt(slice), nil
}

// directoryDataset adapts the ownership directory to the window
// manager contract. Fetch ranges are irrelevant to a point-in-time
// snapshot; an append is simply a refresh, bounded by the directory's
// own minimum interval, and nothing is ever evicted.
type directoryDataset struct {
	dir *directory.Directory
}

func (d directoryDataset) Append(ctx context.Context, _, _ time.Time) error {
	return d.dir.Refresh(ctx)
}

func (d directoryDataset) EvictBefore(time.Time) int {
	return 0
}

// Build assembles one organization's instance from configuration.
func Build(ctx context.Context, cfg *config.Config, orgCfg config.Org, logger *slog.Logger) (*Instance, error) {
	logger = logger.With("org", orgCfg.ID)
	epoch, err := orgCfg.Epoch()
	if err != nil {
		return nil, err
	}

	httpClient := platform.NewHTTPClient(
		cfg.HTTPRetries,
		time.Duration(cfg.HTTPTimeoutSeconds)*time.Second,
		cfg.HTTPRequestsPerSecond,
	)

	inst := &Instance{ID: orgCfg.ID}

	// Object directory
	loader := directory.NewAPILoader(orgCfg.DirectoryURL, orgCfg.APIKey, orgCfg.APISecret, httpClient)
	dir := directory.New(loader,
		time.Duration(cfg.DirectoryRefreshMinMinutes)*time.Minute,
		platform.ComponentLogger(logger, "directory"))

	// Billing source
	var billingSource billing.Source
	switch orgCfg.BillingMode {
	case "clickhouse":
		source, err := billing.NewClickHouseSource(clickhouseConfig(orgCfg.ClickHouse))
		if err != nil {
			return nil, fmt.Errorf("org %s: %w", orgCfg.ID, err)
		}
		if err := source.Ping(ctx); err != nil {
			return nil, fmt.Errorf("org %s: billing export unreachable: %w", orgCfg.ID, err)
		}
		inst.closers = append(inst.closers, source.Close)
		billingSource = source
	case "http":
		billingSource = billing.NewHTTPSource(orgCfg.BillingURL, orgCfg.APIKey, orgCfg.APISecret, httpClient)
	default:
		return nil, fmt.Errorf("org %s: unknown billing mode %q", orgCfg.ID, orgCfg.BillingMode)
	}
	billingData := billing.NewDataset(billingSource)

	// Usage metrics source
	telemetry := usage.NewTelemetryClient(orgCfg.TelemetryURL, orgCfg.APIKey, orgCfg.APISecret, httpClient)
	usageData := usage.NewWindow(telemetry)

	windows := []*schedule.WindowManager{
		schedule.NewWindowManager("billing", epoch, windowConfig(cfg.Windows.Billing), billingData,
			platform.ComponentLogger(logger, "window")),
		schedule.NewWindowManager("usage", epoch, windowConfig(cfg.Windows.Usage), usageData,
			platform.ComponentLogger(logger, "window")),
		schedule.NewWindowManager("directory", epoch, schedule.DefaultWindowConfig(), directoryDataset{dir: dir},
			platform.ComponentLogger(logger, "window")),
	}

	// Allocation core
	engineLogger := platform.ComponentLogger(logger, "allocation")
	registry := allocation.NewDefaultRegistry(engineLogger)
	engine := allocation.NewEngine(registry, allocation.NewLedger(), billingData, engineLogger)

	contexts := func() *allocation.Context {
		return &allocation.Context{
			Directory: dir.Snapshot(),
			Usage:     usageData,
			Logger:    engineLogger,
		}
	}

	// Scheduler and exporter
	oracle := export.NewPromOracle(orgCfg.PrometheusURL, httpClient)
	schedCfg := schedule.Config{
		Epoch:               epoch,
		SettlementLag:       time.Duration(cfg.SettlementLagHours) * time.Hour,
		RewindThreshold:     cfg.RewindThreshold,
		LedgerRetentionDays: cfg.Windows.Ledger.MaxDaysInMemory,
	}
	scheduler := schedule.NewScheduler(schedCfg, oracle, windows, engine, contexts,
		platform.ComponentLogger(logger, "scheduler"))

	collector := export.NewCollector(orgCfg.ID,
		time.Duration(cfg.ScrapeTimeoutSeconds)*time.Second,
		platform.ComponentLogger(logger, "export"))

	var archiveWriter *archive.Writer
	if orgCfg.ArchiveDSN != "" {
		archiveWriter, err = archive.Open(orgCfg.ArchiveDSN, platform.ComponentLogger(logger, "archive"))
		if err != nil {
			return nil, fmt.Errorf("org %s: %w", orgCfg.ID, err)
		}
		if err := archiveWriter.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("org %s: %w", orgCfg.ID, err)
		}
		inst.closers = append(inst.closers, archiveWriter.Close)
	}

	coordinator := NewCoordinator(orgCfg.ID, scheduler, collector, archiveWriter,
		platform.ComponentLogger(logger, "coordinator"))
	collector.Attach(coordinator)

	inst.Coordinator = coordinator
	inst.Collector = collector
	inst.Scheduler = scheduler
	inst.engine = engine
	inst.windows = windows
	inst.contexts = contexts
	return inst, nil
}

// Close releases the instance's connections.
func (i *Instance) Close() {
	for _, c := range i.closers {
		_ = c()
	}
}

// clickhouseConfig overlays the org's explicit settings on the
// connection defaults, so a config block only names what differs.
func clickhouseConfig(ch *config.ClickHouseSettings) *billing.ClickHouseConfig {
	cfg := billing.DefaultClickHouseConfig()
	if ch.Host != "" {
		cfg.Host = ch.Host
	}
	if ch.Port != 0 {
		cfg.Port = ch.Port
	}
	if ch.Database != "" {
		cfg.Database = ch.Database
	}
	if ch.Username != "" {
		cfg.Username = ch.Username
	}
	cfg.Password = ch.Password
	if ch.Table != "" {
		cfg.Table = ch.Table
	}
	cfg.Debug = platform.GetEnvBool("CHARGEBACK_CLICKHOUSE_DEBUG", false)
	return cfg
}

func windowConfig(w config.WindowSettings) schedule.WindowConfig {
	return schedule.WindowConfig{
		FetchWithinDays: w.FetchWithinDays,
		DaysPerQuery:    w.DaysPerQuery,
		MaxDaysInMemory: w.MaxDaysInMemory,
	}
}
