// Command client is a minimal reference Client: it connects to the
// Master, prints the cluster list, and joins the first cluster offered.
// Real game clients embed internal/client directly; this binary exists so
// the fleet can be exercised end-to-end from the command line.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Quaint-Studios/Sustenet/internal/client"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
)

func main() {
	var masterIP string
	var masterPort uint16
	var logLevel string

	root := &cobra.Command{
		Use:   "client",
		Short: "Run a reference Sustenet Client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(masterIP, masterPort, logLevel)
		},
	}
	root.Flags().StringVar(&masterIP, "master-ip", "127.0.0.1", "Master server IP")
	root.Flags().Uint16Var(&masterPort, "master-port", 6256, "Master server port")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(masterIP string, masterPort uint16, logLevel string) error {
	log := logging.New(logging.SourceClient, logLevel)

	c := client.New(log)
	events := c.Subscribe(16)

	if err := c.ConnectToMaster(masterIP, masterPort); err != nil {
		log.Error("failed to connect to master", "error", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case client.EventClusterList:
				fmt.Printf("received %d clusters\n", len(ev.Clusters))
				if len(ev.Clusters) > 0 && c.State() == client.MasterConnected {
					if err := c.JoinCluster(0); err != nil {
						log.Error("failed to join cluster", "error", err)
					}
				}
			case client.EventDisconnected:
				log.Info("disconnected")
				return nil
			case client.EventError:
				log.Error("protocol error", "message", ev.Message)
			}
		case <-sigCh:
			c.Disconnect()
			time.Sleep(100 * time.Millisecond)
			return nil
		}
	}
}
