// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
)

var (
	// Global flags
	configFile string
	socketPath string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lightmesh",
	Short: "lightmesh - synchronized colour patterns over a lossy lighting mesh",
	Long: `lightmesh coordinates a star of lighting nodes over a lossy peer-to-peer link.
The device in slot 0 of the mesh table is the controller: it runs the pattern
engine and drives every node. All other devices apply the commands they receive
and answer liveness pings.

Features:
  - Compact, integrity checked, obfuscated wire protocol
  - Tick driven multi-phase patterns with per-node timelines
  - Local control: CLI via Unix Domain Socket
  - Remote provisioning: Kafka command subscription
  - Offline inspection of captured mesh traffic`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/lightmesh/lightmesh.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/lightmesh.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"control request timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(patternCmd)
	rootCmd.AddCommand(meshCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(publishCmd)
}
