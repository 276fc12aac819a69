package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapyr/mcp-hangar/internal/config"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/transport"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

type fakeLauncher struct{}

func (fakeLauncher) Launch(context.Context) (mcp.Transport, error) {
	clientT, serverT := mcp.NewInMemoryTransports()
	server := mcp.NewServer(&mcp.Implementation{Name: "fake", Version: "0.0.1"}, nil)
	server.AddTool(&mcp.Tool{Name: "ping", Description: "ping", InputSchema: emptySchema}, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "pong"}}}, nil
	})
	go func() { _ = server.Run(context.Background(), serverT) }()
	return clientT, nil
}
func (fakeLauncher) Close(context.Context) error { return nil }
func (fakeLauncher) Alive() bool                 { return true }
func (fakeLauncher) Stderr() []string            { return nil }

func fakeFactory(spec config.ProviderSpec) (transport.Launcher, error) {
	return fakeLauncher{}, nil
}

func buildTestRegistry(t *testing.T) *Registry {
	t.Helper()
	bus := events.New()
	tracker := health.New(bus, 3)
	return New(bus, tracker, fakeFactory)
}

func TestLoadFromConfigBuildsProvidersAndGroups(t *testing.T) {
	r := buildTestRegistry(t)

	f := &config.File{Providers: map[string]config.ProviderSpec{
		"p1": {ID: "p1", Mode: config.ModeSubprocess, Command: []string{"math"}},
		"p2": {ID: "p2", Mode: config.ModeSubprocess, Command: []string{"math"}},
		"g1": {
			ID: "g1", Mode: config.ModeGroup, Strategy: config.StrategyPriority, MinHealthy: 1,
			Members: []config.Member{{ID: "p1", Priority: 1}, {ID: "p2", Priority: 2}},
		},
	}}

	require.NoError(t, r.LoadFromConfig(f))

	m, ok := r.Provider("p1")
	require.True(t, ok)
	assert.NotNil(t, m)

	g, ok := r.Group("g1")
	require.True(t, ok)
	assert.NotNil(t, g)

	_, _, err := r.Resolve("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, hangarerr.UnknownTarget, hangarerr.KindOf(err))
}

func TestResolveDistinguishesProviderFromGroup(t *testing.T) {
	r := buildTestRegistry(t)
	f := &config.File{Providers: map[string]config.ProviderSpec{
		"solo": {ID: "solo", Mode: config.ModeSubprocess, Command: []string{"x"}},
	}}
	require.NoError(t, r.LoadFromConfig(f))

	m, g, err := r.Resolve("solo")
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Nil(t, g)
}
