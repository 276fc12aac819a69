// Package session implements the Provider Session component (spec §4.2):
// the MCP handshake against one provider backend, its cached tool catalog,
// and tool invocation.
//
// Grounded on cmd/docker-mcp/internal/mcp/stdio.go's
// client.Connect/AddRoots/Session shape, and on the client-side
// session.ListTools/session.CallTool idiom used across the retrieval pack
// (other_examples: amir-the-h-mcp-hub's plugin.Manager.StartServer/Execute,
// mfateev-temporal-agent-harness's mcp manager, vanducng-goclaw's connect.go)
// — all built on the same github.com/modelcontextprotocol/go-sdk/mcp client
// the teacher depends on.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/transport"
)

const (
	implementationName = "mcp-hangar"
	implementationVer  = "1.0.0"
)

// Tool is the cached, provider-declared tool description (spec §4.2's
// "catalog" — name, description, and input schema as reported by the
// backend's tools/list).
type Tool struct {
	Name        string
	Description string
	InputSchema any
}

// Session owns one live MCP handshake against a single provider backend:
// the connected client/session pair and its cached tool catalog.
type Session struct {
	providerID string
	launcher   transport.Launcher

	mu      sync.RWMutex
	client  *mcp.Client
	mcpSess *mcp.ClientSession
	tools   map[string]Tool
	open    bool
}

// New returns an unconnected Session for the given launcher. Call Start to
// perform the handshake.
func New(providerID string, launcher transport.Launcher) *Session {
	return &Session{providerID: providerID, launcher: launcher}
}

// Start launches the backend, performs the MCP initialize handshake, and
// populates the tool catalog via tools/list. Safe to call once per Session;
// callers needing coalesced concurrent starts should do so at the Provider
// Manager layer (spec §4.3's single-flight ensure_ready), not here.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("session: provider %s already started", s.providerID)
	}

	mcpTransport, err := s.launcher.Launch(ctx)
	if err != nil {
		return hangarerr.Wrap(hangarerr.TransportError, "launching provider", err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    implementationName,
		Version: implementationVer,
	}, nil)

	mcpSess, err := client.Connect(ctx, mcpTransport, nil)
	if err != nil {
		return hangarerr.Wrap(hangarerr.ProviderColdStartFailed, "connecting to provider", err)
	}

	toolsResult, err := mcpSess.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		_ = mcpSess.Close()
		return hangarerr.Wrap(hangarerr.ProviderColdStartFailed, "listing provider tools", err)
	}

	tools := make(map[string]Tool, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		tools[t.Name] = Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}

	s.client = client
	s.mcpSess = mcpSess
	s.tools = tools
	s.open = true
	return nil
}

// Refresh re-runs tools/list and replaces the cached catalog. Its only
// caller is Manager.Probe (the periodic Health Worker probe); a tools
// list_changed notification from the backend does not trigger it.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	mcpSess := s.mcpSess
	open := s.open
	s.mu.Unlock()
	if !open {
		return fmt.Errorf("session: provider %s not started", s.providerID)
	}

	toolsResult, err := mcpSess.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return hangarerr.Wrap(hangarerr.TransportError, "refreshing provider tools", err)
	}

	tools := make(map[string]Tool, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		tools[t.Name] = Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}

	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
	return nil
}

// Tools returns a snapshot of the cached tool catalog.
func (s *Session) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out
}

// HasTool reports whether the named tool is present in the cached catalog.
func (s *Session) HasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// Invoke calls the named tool with the given arguments, honoring ctx's
// deadline. Returns hangarerr.UnknownTool if the tool isn't in the cached
// catalog — spec §7's validation-before-dispatch rule.
func (s *Session) Invoke(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	mcpSess := s.mcpSess
	open := s.open
	_, known := s.tools[tool]
	s.mu.RUnlock()

	if !open {
		return nil, hangarerr.New(hangarerr.TransportError, fmt.Sprintf("provider %s not started", s.providerID))
	}
	if !known {
		return nil, hangarerr.New(hangarerr.UnknownTool, fmt.Sprintf("tool %q not declared by provider %s", tool, s.providerID))
	}

	result, err := mcpSess.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		if ctx.Err() != nil {
			return nil, hangarerr.Wrap(hangarerr.Timeout, "tool call deadline exceeded", err)
		}
		return nil, hangarerr.Wrap(hangarerr.TransportError, "tool call transport failure", err)
	}

	if result.IsError {
		return result, hangarerr.New(hangarerr.ToolError, fmt.Sprintf("tool %q returned an error result", tool))
	}
	return result, nil
}

// Close shuts down the underlying MCP session and releases launcher
// resources. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	mcpSess := s.mcpSess
	open := s.open
	s.open = false
	s.mu.Unlock()

	if !open {
		return nil
	}

	var sessErr error
	if mcpSess != nil {
		sessErr = mcpSess.Close()
	}
	launchErr := s.launcher.Close(ctx)
	if sessErr != nil {
		return sessErr
	}
	return launchErr
}

// Alive reports whether the underlying launcher still considers its
// backend live.
func (s *Session) Alive() bool {
	return s.launcher.Alive()
}

// Stderr returns recent captured diagnostic output from the backend.
func (s *Session) Stderr() []string {
	return s.launcher.Stderr()
}
