// Command master runs the Sustenet Master server: the fleet's single
// well-known entry point, handing out the current cluster list and
// registering new Cluster servers. Wiring grounded on
// randybias-nightcrier/cmd/nightcrier/main.go's Cobra root command,
// --log-level flag, and signal-driven shutdown.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Quaint-Studios/Sustenet/internal/config"
	"github.com/Quaint-Studios/Sustenet/internal/eventbus"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
	"github.com/Quaint-Studios/Sustenet/internal/master"
)

func main() {
	var configPath, logLevel, keysDir, metricsAddr string

	root := &cobra.Command{
		Use:   "master",
		Short: "Run the Sustenet Master server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, keysDir, metricsAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to Config.toml (default: ./Config.toml)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	root.Flags().StringVar(&keysDir, "keys-dir", "keys", "directory holding cluster registration keys")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, logLevel, keysDir, metricsAddr string) error {
	log := logging.New(logging.SourceMaster, logLevel)

	cfg, err := config.LoadMaster(configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := master.NewMetrics(reg)

	events := eventbus.NewBus()
	defer events.Close()

	srv := master.NewServer(cfg.All.ServerName, cfg.All.MaxConnections, keysDir, log, events, metrics)

	go serveMetrics(metricsAddr, reg, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		srv.Shutdown()
	}()

	log.Success("starting master server", "name", cfg.All.ServerName, "port", cfg.All.Port)
	if err := srv.ListenAndServe(cfg.All.Port); err != nil {
		log.Error("master server exited with error", "error", err)
		return err
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", "error", fmt.Sprint(err))
	}
}
