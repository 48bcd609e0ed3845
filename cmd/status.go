package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the lightmesh daemon for its overall status.

Shows: version, uptime, device name, role, slot and log level.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), newClient(), command.MethodDaemonStatus, nil, cmd.OutOrStdout())
	},
}
