package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
)

var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Inspect the mesh",
}

var meshStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this device's place in the mesh",
	Long: `Show the device's slot, role and mesh table. On the controller the
output includes the liveness acknowledgements seen recently; on a node it
includes the state machine counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), newClient(), command.MethodMeshStatus, nil, cmd.OutOrStdout())
	},
}

func init() {
	meshCmd.AddCommand(meshStatusCmd)
}
