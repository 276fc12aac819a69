// Command hangar runs the MCP Hangar control-plane gateway.
//
// Grounded on cmd/docker-mcp's main command structure (a thin main.go
// delegating to a cobra root built in commands), generalized from the
// teacher's docker-specific root command to MCP Hangar's serve/config
// surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mapyr/mcp-hangar/cmd/hangar/commands"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := commands.NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	if errors.Is(err, context.Canceled) {
		return 130
	}

	fmt.Fprintln(os.Stderr, "hangar:", err)

	var he *hangarerr.HangarError
	if errors.As(err, &he) {
		switch he.Kind {
		case hangarerr.InvalidArgument, hangarerr.UnknownTarget, hangarerr.UnknownTool:
			return 1
		default:
			return 2
		}
	}

	if errors.Is(err, commands.ErrUsage) {
		return 1
	}
	return 2
}
