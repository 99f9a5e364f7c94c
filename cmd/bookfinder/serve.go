package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rrh2023/book-finder/config"
	"github.com/rrh2023/book-finder/searchclient"
	"github.com/rrh2023/book-finder/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the book search web page",
	Long: `serve runs the web page. Every browser session gets its own search state;
searches are posted to the configured endpoint (see --endpoint or
endpoint_url).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default :8080)")
	serveCmd.Flags().String("metrics-addr", "", "separate Prometheus listen address; /metrics is also served on the page server")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	client, err := newSearchClient(cfg, registry)
	if err != nil {
		return err
	}

	ui, err := web.NewServer(client, cfg, slog.Default(), web.WithRegistry(registry))
	if err != nil {
		return fmt.Errorf("creating web server: %w", err)
	}
	defer ui.Close()

	slog.Info("starting web ui",
		slog.String("addr", cfg.ListenAddr),
		slog.String("endpoint", client.Endpoint()),
	)
	return runServer(cmd.Context(),
		newHTTPServer(cfg.ListenAddr, ui.Handler()),
		newMetricsServer(cfg.MetricsAddr, registry),
	)
}

func newSearchClient(cfg *config.Config, registry prometheus.Registerer) (*searchclient.Client, error) {
	opts := []searchclient.Option{
		searchclient.WithTimeout(cfg.Timeout),
		searchclient.WithUserAgent(cfg.UserAgent),
	}
	if registry != nil {
		opts = append(opts, searchclient.WithRegistry(registry))
	}
	client, err := searchclient.New(cfg.EndpointURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating search client: %w", err)
	}
	return client, nil
}
