// Package transport implements the Process Transport component (spec
// §4.1): the three launch variants (subprocess, container, remote) that
// share one capability set, per spec §9's "hidden polymorphism" design
// note — represented here as implementations of the Launcher interface
// rather than mode-specific branches pushed up into the Provider Manager.
//
// The actual JSON-RPC framing and request/reply correlation is delegated to
// github.com/modelcontextprotocol/go-sdk/mcp's own mcp.Transport /
// mcp.Client, the same way the teacher does in
// cmd/docker-mcp/internal/mcp/stdio.go — Launcher's job is solely to
// construct that underlying transport and to own everything the SDK
// doesn't: process lifecycle, force-kill escalation, and captured stderr.
package transport

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mapyr/mcp-hangar/internal/hangarerr"
)

// Launcher builds the SDK transport for one provider and owns its
// underlying OS resources (child process, container, or HTTP client).
type Launcher interface {
	// Launch starts the backend and returns an mcp.Transport ready to be
	// passed to (*mcp.Client).Connect.
	Launch(ctx context.Context) (mcp.Transport, error)

	// Close performs graceful shutdown: a caller that already sent the MCP
	// `shutdown` notification calls Close only to release the underlying
	// OS resources (terminate the process/close the connection),
	// escalating to a force-kill after gracePeriod elapses.
	Close(ctx context.Context) error

	// Alive reports whether the backend process/connection is still
	// considered live (best-effort; used for diagnostics, not correctness).
	Alive() bool

	// Stderr returns recently captured diagnostic output, most recent last.
	Stderr() []string
}

// classifyLaunchErr maps a raw launch failure into the §7 taxonomy.
func classifyLaunchErr(err error) error {
	if err == nil {
		return nil
	}
	return hangarerr.Wrap(hangarerr.TransportError, "launching provider transport", err)
}
