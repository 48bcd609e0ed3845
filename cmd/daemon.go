package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the lightmesh device daemon in foreground",
	Long: `Run the lightmesh device daemon in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Resolve its own slot from node.address and the mesh table
     (slot 0 runs the pattern engine, every other slot runs as a node)
  4. Start UDS server for CLI control
  5. Start Kafka command consumer (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

A device whose address is not in the mesh table exits with an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sock := ""
		if cmd.Flags().Changed("socket") {
			sock = socketPath
		}
		return runDaemon(configFile, sock, pidFile)
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
}

func runDaemon(configPath, sock, pid string) error {
	d, err := daemon.New(configPath, sock, pid)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Blocks until shutdown.
	return d.Run()
}
