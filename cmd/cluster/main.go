// Command cluster runs a Sustenet Cluster server: the dual-role process
// that registers with the Master and then hosts end-user Clients.
package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Quaint-Studios/Sustenet/internal/clusterd"
	"github.com/Quaint-Studios/Sustenet/internal/config"
	"github.com/Quaint-Studios/Sustenet/internal/eventbus"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
)

func main() {
	var configPath, logLevel, keysDir, publicIP string

	root := &cobra.Command{
		Use:   "cluster",
		Short: "Run a Sustenet Cluster server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, keysDir, publicIP)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to Config.toml (default: ./Config.toml)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	root.Flags().StringVar(&keysDir, "keys-dir", "keys", "directory holding the cluster registration key")
	root.Flags().StringVar(&publicIP, "public-ip", "", "public IP to advertise to the Master (default: locally bound address)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, logLevel, keysDir, publicIP string) error {
	log := logging.New(logging.SourceCluster, logLevel)

	cfg, err := config.LoadCluster(configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return err
	}

	resolvedIP, err := resolvePublicIP(publicIP, cfg.Cluster.MasterIP, cfg.Cluster.MasterPort)
	if err != nil {
		log.Error("failed to resolve public IP; aborting startup", "error", err)
		return err
	}

	events := eventbus.NewBus()
	defer events.Close()

	registered := make(chan struct{})
	var registerOnce sync.Once

	var srv *clusterd.Server
	link := clusterd.NewMasterLink(
		cfg.Cluster.MasterIP, cfg.Cluster.MasterPort,
		cfg.Cluster.KeyName, cfg.All.ServerName, resolvedIP, cfg.All.Port, cfg.All.MaxConnections,
		keysDir, log,
		func(list []clusterd.ClusterInfo) {
			if srv != nil {
				srv.OnClusterList(list)
			}
		},
		func() {
			registerOnce.Do(func() { close(registered) })
		},
	)
	srv = clusterd.NewServer(cfg.All.MaxConnections, log, events, link)

	go link.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	shuttingDown := make(chan struct{})
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		close(shuttingDown)
		srv.Shutdown()
	}()

	log.Info("waiting for master registration", "addr", cfg.Cluster.MasterIP)
	select {
	case <-registered:
	case <-shuttingDown:
		return nil
	}

	log.Success("starting cluster server", "name", cfg.All.ServerName, "port", cfg.All.Port)
	if err := srv.ListenAndServe(cfg.All.Port); err != nil {
		log.Error("cluster server exited with error", "error", err)
		return err
	}
	return nil
}

// resolvePublicIP returns explicitIP if set, otherwise dials the Master
// briefly to discover which local address the OS would use to reach it,
// matching spec.md §4.4's "abort startup on failure" requirement.
func resolvePublicIP(explicitIP, masterIP string, masterPort uint16) (string, error) {
	if explicitIP != "" {
		return explicitIP, nil
	}
	return dialLocalAddr(masterIP, masterPort)
}
