// Chargeback exporter - allocates cloud billing costs to the principals
// that caused them and republishes the rows as time-travelling gauges.
//
// Usage:
//   chargeback serve --config chargeback.yaml
//   chargeback compute --config chargeback.yaml --org org-1 --hour 2026-08-30T14:00:00Z
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"cloud-chargeback/internal/config"
	"cloud-chargeback/internal/org"
	"cloud-chargeback/pkg/platform"
	"cloud-chargeback/pkg/timeslice"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "chargeback",
		Usage:   "Cloud cost chargeback allocation engine and exporter",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "chargeback.yaml",
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"CHARGEBACK_CONFIG"},
			},
		},

		Commands: []*cli.Command{
			serveCommand(),
			computeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		platform.LogFatal(slog.Default(), "chargeback exited", err)
	}
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scrape-driven exporter for all configured organizations",
		Action: func(c *cli.Context) error {
			logger := platform.InitLogger()

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry := prometheus.NewRegistry()
			var instances []*org.Instance
			for _, orgCfg := range cfg.Organizations {
				inst, err := org.Build(ctx, cfg, orgCfg, logger)
				if err != nil {
					return err
				}
				defer inst.Close()
				registry.MustRegister(inst.Collector)
				instances = append(instances, inst)
				logger.Info("organization registered", "org", inst.ID)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

			srv := &http.Server{
				Addr:        cfg.ListenAddr,
				Handler:     mux,
				ReadTimeout: 10 * time.Second,
				// A scrape drives a full advance cycle; give it room.
				WriteTimeout: time.Duration(cfg.ScrapeTimeoutSeconds+5) * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("exporter listening", "addr", cfg.ListenAddr, "organizations", len(instances))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			// Let an in-flight scrape (and its advance cycle) finish so no
			// half-published hour is left behind.
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.ScrapeTimeoutSeconds+5)*time.Second)
			defer cancel()
			logger.Info("shutting down, waiting for in-flight cycle")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// =============================================================================
// COMPUTE COMMAND
// =============================================================================

func computeCommand() *cli.Command {
	return &cli.Command{
		Name:  "compute",
		Usage: "Compute one hour's allocation for one organization and print it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "org",
				Usage:    "Organization id from the config file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "hour",
				Usage:    "Hour to compute, RFC3339 (truncated to the hour)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			logger := platform.InitLogger()

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			hour, err := time.Parse(time.RFC3339, c.String("hour"))
			if err != nil {
				return fmt.Errorf("bad --hour: %w", err)
			}

			var orgCfg *config.Org
			for i := range cfg.Organizations {
				if cfg.Organizations[i].ID == c.String("org") {
					orgCfg = &cfg.Organizations[i]
					break
				}
			}
			if orgCfg == nil {
				return fmt.Errorf("organization %q not in config", c.String("org"))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			inst, err := org.Build(ctx, cfg, *orgCfg, logger)
			if err != nil {
				return err
			}
			defer inst.Close()

			rows, err := inst.ComputeOnce(ctx, timeslice.HourOf(hour))
			if err != nil {
				return err
			}

			type printedRow struct {
				Principal     string `json:"principal"`
				ProductType   string `json:"product_type"`
				EnvironmentID string `json:"environment_id"`
				UsageCost     string `json:"usage_cost"`
				SharedCost    string `json:"shared_cost"`
			}
			out := make([]printedRow, 0, len(rows))
			for _, r := range rows {
				out = append(out, printedRow{
					Principal:     r.Key.Principal,
					ProductType:   r.Key.ProductType,
					EnvironmentID: r.Key.EnvironmentID,
					UsageCost:     r.UsageCost.String(),
					SharedCost:    r.SharedCost.String(),
				})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
