package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rrh2023/book-finder/api"
	"github.com/rrh2023/book-finder/finder"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the book search service",
	Long: `api serves POST {"description": "..."} and answers {"books": [...]} from
the Google Books volumes catalogue, with retries, caching and a per-client
rate limit.`,
	RunE: runAPI,
}

func init() {
	apiCmd.Flags().String("listen", "", "listen address (default :8081)")
	apiCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	f, err := finder.NewFinder(cfg, finder.WithMetrics(finder.NewMetrics(registry)))
	if err != nil {
		return fmt.Errorf("initialising finder: %w", err)
	}

	srv, err := api.NewServer(f, cfg, registry, slog.Default())
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	slog.Info("starting search service",
		slog.String("addr", cfg.APIAddr),
		slog.String("volumes_url", cfg.VolumesURL),
		slog.Int("max_results", cfg.MaxResults),
	)
	return runServer(cmd.Context(),
		newHTTPServer(cfg.APIAddr, srv.Handler()),
		newMetricsServer(cfg.MetricsAddr, registry),
	)
}
