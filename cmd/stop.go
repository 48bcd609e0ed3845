package cmd

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
	"firestige.xyz/lightmesh/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the lightmesh daemon",
	Long: `Stop the lightmesh daemon gracefully.

The shutdown request goes over the Unix Domain Socket. When the socket is
unreachable and --pidfile is given, SIGTERM is sent to the recorded process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newClient(), cmd.OutOrStdout(), stopPIDFile)
	},
}

var stopPIDFile string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file used when the socket is unreachable")
}

// signalDaemon is replaced in tests.
var signalDaemon = daemon.Signal

func runStop(ctx context.Context, client ControlClient, out io.Writer, pid string) error {
	_, err := call(ctx, client, command.MethodDaemonShutdown, nil)
	if err == nil {
		fmt.Fprintln(out, "✓ Daemon is shutting down")
		return nil
	}
	if pid == "" {
		return err
	}

	if sigErr := signalDaemon(pid, syscall.SIGTERM); sigErr != nil {
		return fmt.Errorf("%v; %w", err, sigErr)
	}
	if err := daemon.WaitForExit(pid, 10*time.Second); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Daemon stopped (SIGTERM)")
	return nil
}
