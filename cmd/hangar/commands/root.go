// Package commands implements the hangar CLI's cobra command tree,
// grounded on the teacher's cmd/docker-mcp/commands package (gateway.go's
// flag-struct-plus-RunE shape), generalized from the teacher's
// docker/catalog-specific flags to MCP Hangar's config-file-driven surface.
package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

// ErrUsage marks a user-facing configuration/usage error (exit code 1 per
// spec §6), distinct from a system-level failure (exit code 2).
var ErrUsage = errors.New("usage error")

// NewRootCmd builds the hangar root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hangar",
		Short:         "MCP Hangar — an MCP server multiplexing control-plane gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newRegistryCmd())
	return root
}
