// Package server implements the public MCP surface (spec §6):
// registry_list, registry_tools, registry_invoke, hangar_call, hangar_batch,
// registry_start, registry_stop, registry_health, registry_metrics,
// registry_discover, registry_details, exposed as MCP tools over stdio or
// HTTP.
//
// Grounded on the teacher's Gateway.Run / mcp.NewServer(&mcp.Implementation{...},
// &mcp.ServerOptions{HasTools: true, ...}) setup in run.go, and on
// server.AddTool(&mcp.Tool{...}, handler) confirmed against
// _examples/codeready-toolchain-tarsy/pkg/mcp/client_test.go and
// integration_test.go (including the req.Params.Arguments json.RawMessage +
// json.Unmarshal idiom used there to read call arguments server-side).
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mapyr/mcp-hangar/internal/batch"
	"github.com/mapyr/mcp-hangar/internal/config"
	"github.com/mapyr/mcp-hangar/internal/dispatch"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/manager"
	"github.com/mapyr/mcp-hangar/internal/registry"
)

const (
	implementationName = "mcp-hangar"
	implementationVer  = "1.0.0"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

// Server wires the Registry, Dispatch Engine, and Batch Executor into the
// gateway's public MCP tool surface.
type Server struct {
	registry   *registry.Registry
	dispatcher *dispatch.Engine
	tracker    *health.Tracker
	bus        *events.Bus
	configPath string

	startedAt      time.Time
	configLoadedAt time.Time
	everReady      bool

	mcpServer *mcp.Server
}

// New builds a Server and registers every public tool on its underlying
// *mcp.Server.
func New(reg *registry.Registry, dispatcher *dispatch.Engine, tracker *health.Tracker, bus *events.Bus, configPath string) *Server {
	s := &Server{
		registry:       reg,
		dispatcher:     dispatcher,
		tracker:        tracker,
		bus:            bus,
		configPath:     configPath,
		startedAt:      time.Now(),
		configLoadedAt: time.Now(),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    implementationName,
		Version: implementationVer,
	}, &mcp.ServerOptions{HasTools: true})

	s.registerTools()

	readySub := bus.Subscribe()
	go func() {
		for ev := range readySub.Events() {
			if ev.Kind == events.ProviderReady {
				s.everReady = true
			}
		}
	}()
	return s
}

// MCPServer returns the underlying *mcp.Server, for wiring into a
// transport (stdio, SSE, or Streamable HTTP) in cmd/hangar.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

func (s *Server) registerTools() {
	add := func(name, description string, handler mcp.ToolHandler) {
		s.mcpServer.AddTool(&mcp.Tool{Name: name, Description: description, InputSchema: emptyObjectSchema}, handler)
	}

	add("registry_list", "List every configured provider with its current state, mode, and tool count.", s.handleRegistryList)
	add("registry_tools", "List the cached tool catalog for one provider.", s.handleRegistryTools)
	add("registry_invoke", "Invoke one tool on one provider or group target.", s.handleRegistryInvoke)
	add("hangar_call", "Convenience alias for registry_invoke.", s.handleRegistryInvoke)
	add("hangar_batch", "Execute a batch of calls concurrently, returning results in input order.", s.handleHangarBatch)
	add("registry_start", "Force a provider's cold start (ensure_ready) without dispatching a tool call.", s.handleRegistryStart)
	add("registry_stop", "Shut down a provider, returning it to the cold state.", s.handleRegistryStop)
	add("registry_health", "Return the current health record for every provider.", s.handleRegistryHealth)
	add("registry_metrics", "Return a point-in-time summary of per-provider state and in-flight counts (see /metrics for the full OTel/Prometheus export).", s.handleRegistryMetrics)
	add("registry_discover", "Re-read the resolved config file and add any newly-declared providers/groups.", s.handleRegistryDiscover)
	add("registry_details", "Return id, state, mode, degraded flag, consecutive failures, in-flight count, and tool names/descriptions for one provider.", s.handleRegistryDetails)
}

// decodeArgs unmarshals a tool call's raw JSON arguments into dst.
func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func textResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	kind := hangarerr.KindOf(err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: kind.String() + ": " + err.Error()}},
	}, nil
}

type registryListRow struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Mode       string `json:"mode"`
	ToolsCount int    `json:"tools_count"`
}

func (s *Server) handleRegistryList(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := s.registry.List()
	rows := make([]registryListRow, 0, len(summaries))
	for _, sum := range summaries {
		count := 0
		if m, ok := s.registry.Provider(sum.ID); ok {
			count = len(m.Tools())
		}
		rows = append(rows, registryListRow{ID: sum.ID, State: sum.State, Mode: sum.Mode, ToolsCount: count})
	}
	return textResult(rows), nil
}

type providerArg struct {
	Provider string `json:"provider"`
}

func (s *Server) handleRegistryTools(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args providerArg
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "decoding registry_tools arguments", err))
	}
	m, ok := s.registry.Provider(args.Provider)
	if !ok {
		return errorResult(hangarerr.New(hangarerr.UnknownTarget, "no such provider: "+args.Provider))
	}
	tools := m.Tools()
	if len(tools) == 0 && (m.State() == manager.Cold || m.State() == manager.Initializing) {
		// Declared-tools fallback (spec §9 Open Question #1), same as
		// registry_details: this is the cold-listing surface the question
		// is actually about.
		spec, _ := s.registry.Spec(args.Provider)
		return textResult(spec.Tools), nil
	}
	return textResult(tools), nil
}

type invokeArgs struct {
	Provider  string         `json:"provider"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	TimeoutS  float64        `json:"timeout"`
}

func (s *Server) handleRegistryInvoke(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args invokeArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "decoding registry_invoke arguments", err))
	}

	var deadline time.Time
	if args.TimeoutS > 0 {
		deadline = time.Now().Add(time.Duration(args.TimeoutS * float64(time.Second)))
	}

	result, err := s.dispatcher.Dispatch(ctx, args.Provider, args.Tool, args.Arguments, deadline, dispatch.NewCorrelationID())
	if err != nil {
		return errorResult(err)
	}
	return result, nil
}

type batchCallArg struct {
	Target       string         `json:"target"`
	Tool         string         `json:"tool"`
	Arguments    map[string]any `json:"arguments"`
	TimeoutS     float64        `json:"timeout"`
}

type batchArgs struct {
	Calls       []batchCallArg `json:"calls"`
	MaxParallel int            `json:"max_parallel"`
	FailFast    bool           `json:"fail_fast"`
	TimeoutS    float64        `json:"timeout"`
}

func (s *Server) handleHangarBatch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args batchArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "decoding hangar_batch arguments", err))
	}

	var batchDeadline time.Time
	if args.TimeoutS > 0 {
		batchDeadline = time.Now().Add(time.Duration(args.TimeoutS * float64(time.Second)))
	}

	calls := make([]batch.Call, len(args.Calls))
	for i, c := range args.Calls {
		var callDeadline time.Time
		if c.TimeoutS > 0 {
			callDeadline = time.Now().Add(time.Duration(c.TimeoutS * float64(time.Second)))
		}
		calls[i] = batch.Call{Target: c.Target, Tool: c.Tool, Args: c.Arguments, CallDeadline: callDeadline}
	}

	correlationID := dispatch.NewCorrelationID()
	results := batch.Execute(ctx, s.dispatcher, s.bus, calls, batchDeadline, batch.Options{
		MaxParallel: args.MaxParallel,
		FailFast:    args.FailFast,
	}, correlationID)

	return textResult(results), nil
}

func (s *Server) handleRegistryStart(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args providerArg
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "decoding registry_start arguments", err))
	}
	m, ok := s.registry.Provider(args.Provider)
	if !ok {
		return errorResult(hangarerr.New(hangarerr.UnknownTarget, "no such provider: "+args.Provider))
	}
	if err := m.EnsureReady(ctx); err != nil {
		return errorResult(err)
	}
	s.everReady = true
	return textResult(map[string]string{"provider": args.Provider, "state": m.State().String()}), nil
}

func (s *Server) handleRegistryStop(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args providerArg
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "decoding registry_stop arguments", err))
	}
	m, ok := s.registry.Provider(args.Provider)
	if !ok {
		return errorResult(hangarerr.New(hangarerr.UnknownTarget, "no such provider: "+args.Provider))
	}
	if err := m.Shutdown(ctx); err != nil {
		return errorResult(err)
	}
	return textResult(map[string]string{"provider": args.Provider, "state": m.State().String()}), nil
}

type healthRow struct {
	Provider            string `json:"provider"`
	State               string `json:"state"`
	Degraded            bool   `json:"degraded"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

func (s *Server) handleRegistryHealth(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows := make([]healthRow, 0, len(s.registry.ProviderIDs()))
	for _, id := range s.registry.ProviderIDs() {
		m, ok := s.registry.Provider(id)
		if !ok {
			continue
		}
		rec := s.tracker.Snapshot(id)
		rows = append(rows, healthRow{
			Provider:            id,
			State:               m.State().String(),
			Degraded:            rec.Degraded,
			ConsecutiveFailures: rec.ConsecutiveFailures,
			LastError:           rec.LastError,
		})
	}
	return textResult(rows), nil
}

type metricsRow struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
	InFlight int    `json:"in_flight"`
}

func (s *Server) handleRegistryMetrics(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows := make([]metricsRow, 0, len(s.registry.ProviderIDs()))
	for _, id := range s.registry.ProviderIDs() {
		m, ok := s.registry.Provider(id)
		if !ok {
			continue
		}
		rows = append(rows, metricsRow{Provider: id, State: m.State().String(), InFlight: m.InFlight()})
	}
	return textResult(rows), nil
}

func (s *Server) handleRegistryDiscover(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, _, err := config.Load(s.configPath)
	if err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "loading config", err))
	}
	added, err := s.registry.Discover(f)
	if err != nil {
		return errorResult(err)
	}
	s.configLoadedAt = time.Now()
	return textResult(map[string]any{"added": added}), nil
}

type providerDetails struct {
	ID                  string         `json:"id"`
	State               string         `json:"state"`
	Mode                string         `json:"mode"`
	Degraded            bool           `json:"degraded"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	InFlight            int            `json:"in_flight"`
	Tools               []toolSnapshot `json:"tools"`
}

type toolSnapshot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleRegistryDetails(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args providerArg
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return errorResult(hangarerr.Wrap(hangarerr.InvalidArgument, "decoding registry_details arguments", err))
	}
	m, ok := s.registry.Provider(args.Provider)
	if !ok {
		return errorResult(hangarerr.New(hangarerr.UnknownTarget, "no such provider: "+args.Provider))
	}
	spec, _ := s.registry.Spec(args.Provider)
	rec := s.tracker.Snapshot(args.Provider)

	tools := m.Tools()
	snapshots := make([]toolSnapshot, 0, len(tools))
	if len(tools) == 0 && (m.State() == manager.Cold || m.State() == manager.Initializing) {
		// Declared-tools fallback (spec §9 Open Question #1): backend
		// discovery is authoritative once live, but before the first
		// successful handshake fall back to the config's declared list.
		for _, t := range spec.Tools {
			snapshots = append(snapshots, toolSnapshot{Name: t.Name, Description: t.Description})
		}
	} else {
		for _, t := range tools {
			snapshots = append(snapshots, toolSnapshot{Name: t.Name, Description: t.Description})
		}
	}

	return textResult(providerDetails{
		ID:                  args.Provider,
		State:               m.State().String(),
		Mode:                spec.Mode.String(),
		Degraded:            rec.Degraded,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		InFlight:            m.InFlight(),
		Tools:               snapshots,
	}), nil
}

// AnyProviderEverReady reports whether at least one provider has reached
// the ready state since the server started (spec supplement: /health/ready
// "additionally requires at least one provider to have ever reached ready").
func (s *Server) AnyProviderEverReady() bool {
	return s.everReady
}

// StartedAt returns the process start time, for /health/live's uptime
// field.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}
