package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapyr/mcp-hangar/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the hangar configuration file",
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the resolved configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, path, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrUsage, err)
			}
			providerCount, groupCount := 0, 0
			for _, p := range f.Providers {
				if p.Mode == config.ModeGroup {
					groupCount++
				} else {
					providerCount++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d providers, %d groups)\n", path, providerCount, groupCount)
			return nil
		},
	}
	validateCmd.Flags().StringVar(&configPath, "config", "", "Path to the hangar config file (searches MCP_HANGAR_CONFIG, ~/.config/mcp-hangar/, ./hangar.yaml if unset)")

	cmd.AddCommand(validateCmd)
	return cmd
}
