package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/config"
	"firestige.xyz/lightmesh/internal/mesh"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and pattern catalog",
	Long: `Validate the configuration file and the pattern catalog it points at,
without starting the daemon.

Examples:
  lightmesh validate -c /etc/lightmesh/lightmesh.yml
  lightmesh validate --catalog patterns.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateCatalog != "" {
			return runValidateCatalog(cmd.OutOrStdout(), validateCatalog)
		}
		return runValidateConfig(cmd.OutOrStdout(), configFile)
	},
}

var validateCatalog string

func init() {
	validateCmd.Flags().StringVar(&validateCatalog, "catalog", "",
		"validate only this pattern catalog file")
}

func runValidateConfig(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	dir, err := cfg.Directory()
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	slot, err := dir.ResolveOwnSlot(cfg.SelfAddress())
	if err != nil {
		return fmt.Errorf("INVALID: node.address %s: %w", cfg.Node.Address, err)
	}
	role := mesh.RoleFor(slot)
	fmt.Fprintf(out, "VALID: %s is slot %d (%s) in a mesh of %d\n", cfg.Node.Name, int(slot), role, dir.Len())

	if role == mesh.RoleController {
		return runValidateCatalog(out, cfg.Engine.Catalog)
	}
	return nil
}

func runValidateCatalog(out io.Writer, path string) error {
	cat, err := catalog.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	for _, r := range cat.Rejected {
		fmt.Fprintf(out, "rejected: %s: %v\n", r.Name, r.Err)
	}
	fmt.Fprintf(out, "VALID: catalog %s: %d pattern(s), %d rejected\n", path, cat.Len(), len(cat.Rejected))
	return nil
}
