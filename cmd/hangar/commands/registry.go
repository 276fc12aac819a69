package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapyr/mcp-hangar/internal/config"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/registry"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the providers and groups declared by the configuration file, without starting any",
	}

	var configPath string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every configured provider and its declared mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrUsage, err)
			}

			bus := events.New()
			reg := registry.New(bus, health.New(bus, 3), nil)
			if err := reg.LoadFromConfig(f); err != nil {
				return fmt.Errorf("%w: %s", ErrUsage, err)
			}

			for _, row := range reg.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %s\n", row.ID, row.Mode, row.State)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&configPath, "config", "", "Path to the hangar config file")

	cmd.AddCommand(listCmd)
	return cmd
}
