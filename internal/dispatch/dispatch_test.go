package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapyr/mcp-hangar/internal/config"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/registry"
	"github.com/mapyr/mcp-hangar/internal/transport"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

type scriptedLauncher struct {
	fail bool
}

func (s scriptedLauncher) Launch(context.Context) (mcp.Transport, error) {
	clientT, serverT := mcp.NewInMemoryTransports()
	server := mcp.NewServer(&mcp.Implementation{Name: "fake", Version: "0.0.1"}, nil)
	server.AddTool(&mcp.Tool{Name: "echo", Description: "echo", InputSchema: emptySchema}, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.fail {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "boom"}}}, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil
	})
	go func() { _ = server.Run(context.Background(), serverT) }()
	return clientT, nil
}
func (scriptedLauncher) Close(context.Context) error { return nil }
func (scriptedLauncher) Alive() bool                 { return true }
func (scriptedLauncher) Stderr() []string            { return nil }

func buildEngine(t *testing.T, f *config.File, factory registry.LauncherFactory) (*Engine, *registry.Registry) {
	t.Helper()
	bus := events.New()
	tracker := health.New(bus, 3)
	reg := registry.New(bus, tracker, factory)
	require.NoError(t, reg.LoadFromConfig(f))
	return New(reg, tracker, bus, 0, 0, 0), reg
}

func TestDispatchUnknownTarget(t *testing.T) {
	e, _ := buildEngine(t, &config.File{Providers: map[string]config.ProviderSpec{}}, func(config.ProviderSpec) (transport.Launcher, error) {
		return scriptedLauncher{}, nil
	})

	_, err := e.Dispatch(context.Background(), "ghost", "echo", nil, time.Time{}, "")
	require.Error(t, err)
	assert.Equal(t, hangarerr.UnknownTarget, hangarerr.KindOf(err))
}

func TestDispatchProviderSucceeds(t *testing.T) {
	f := &config.File{Providers: map[string]config.ProviderSpec{
		"p1": {ID: "p1", Mode: config.ModeSubprocess, Command: []string{"x"}},
	}}
	e, _ := buildEngine(t, f, func(config.ProviderSpec) (transport.Launcher, error) { return scriptedLauncher{}, nil })

	result, err := e.Dispatch(context.Background(), "p1", "echo", nil, time.Time{}, "")
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestDispatchGroupUnavailableBelowMinHealthy(t *testing.T) {
	f := &config.File{Providers: map[string]config.ProviderSpec{
		"p1": {ID: "p1", Mode: config.ModeSubprocess, Command: []string{"x"}},
		"g1": {ID: "g1", Mode: config.ModeGroup, Strategy: config.StrategyRoundRobin, MinHealthy: 1,
			Members: []config.Member{{ID: "p1"}}},
	}}
	e, _ := buildEngine(t, f, func(config.ProviderSpec) (transport.Launcher, error) { return scriptedLauncher{}, nil })

	_, err := e.Dispatch(context.Background(), "g1", "echo", nil, time.Time{}, "")
	require.Error(t, err)
	assert.Equal(t, hangarerr.GroupUnavailable, hangarerr.KindOf(err), "p1 is cold, not yet ready, so the group starts below min_healthy")
}

func TestDispatchElapsedDeadlineReturnsTimeoutWithoutBackendCall(t *testing.T) {
	f := &config.File{Providers: map[string]config.ProviderSpec{
		"p1": {ID: "p1", Mode: config.ModeSubprocess, Command: []string{"x"}},
	}}
	e, _ := buildEngine(t, f, func(config.ProviderSpec) (transport.Launcher, error) { return scriptedLauncher{}, nil })

	_, err := e.Dispatch(context.Background(), "p1", "echo", nil, time.Now().Add(-time.Second), "")
	require.Error(t, err)
	assert.Equal(t, hangarerr.Timeout, hangarerr.KindOf(err))
}

func TestDispatchRateLimited(t *testing.T) {
	f := &config.File{Providers: map[string]config.ProviderSpec{
		"p1": {ID: "p1", Mode: config.ModeSubprocess, Command: []string{"x"}},
	}}
	bus := events.New()
	tracker := health.New(bus, 3)
	reg := registry.New(bus, tracker, func(config.ProviderSpec) (transport.Launcher, error) { return scriptedLauncher{}, nil })
	require.NoError(t, reg.LoadFromConfig(f))
	e := New(reg, tracker, bus, 1, 1, 0)

	_, err := e.Dispatch(context.Background(), "p1", "echo", nil, time.Time{}, "")
	require.NoError(t, err)

	_, err = e.Dispatch(context.Background(), "p1", "echo", nil, time.Time{}, "")
	require.Error(t, err)
	assert.Equal(t, hangarerr.RateLimited, hangarerr.KindOf(err))
}
