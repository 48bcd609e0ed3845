package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the device's Wi-Fi credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store Wi-Fi credentials",
	Long: `Store Wi-Fi credentials on the device.

Examples:
  lightmesh credentials set --ssid venue --password s3cret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCredentialsSet(cmd.Context(), newClient(), cmd.OutOrStdout(), credSSID, credPassword)
	},
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored credentials (password redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), newClient(), command.MethodCredentialsGet, nil, cmd.OutOrStdout())
	},
}

var credentialsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(cmd.Context(), newClient(), command.MethodCredentialsReset, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Credentials reset")
		return nil
	},
}

var (
	credSSID     string
	credPassword string
)

func init() {
	credentialsSetCmd.Flags().StringVar(&credSSID, "ssid", "", "network name (required)")
	credentialsSetCmd.Flags().StringVar(&credPassword, "password", "", "network password")
	credentialsSetCmd.MarkFlagRequired("ssid")

	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsShowCmd)
	credentialsCmd.AddCommand(credentialsResetCmd)
}

func runCredentialsSet(ctx context.Context, client ControlClient, out io.Writer, ssid, password string) error {
	params := command.CredentialsSetParams{SSID: ssid, Password: password}
	if _, err := call(ctx, client, command.MethodCredentialsSet, params); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Credentials for %q saved\n", ssid)
	return nil
}
