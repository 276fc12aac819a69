package manager

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/session"
)

// fakeLauncher hands out an in-memory transport backed by a tiny "add"
// server, counting how many times Launch is actually invoked — the
// single-flight assertion from spec.md's "cold start" scenario.
type fakeLauncher struct {
	launches *int32
}

func (f *fakeLauncher) Launch(_ context.Context) (mcp.Transport, error) {
	atomic.AddInt32(f.launches, 1)
	clientT, serverT := mcp.NewInMemoryTransports()
	startAddServer(serverT)
	return clientT, nil
}
func (f *fakeLauncher) Close(_ context.Context) error { return nil }
func (f *fakeLauncher) Alive() bool                   { return true }
func (f *fakeLauncher) Stderr() []string               { return nil }

func startAddServer(transport mcp.Transport) {
	server := mcp.NewServer(&mcp.Implementation{Name: "math", Version: "0.0.1"}, nil)
	server.AddTool(&mcp.Tool{Name: "add", Description: "adds two numbers", InputSchema: emptySchema}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil
	})
	go func() { _ = server.Run(context.Background(), transport) }()
}

func TestEnsureReadyColdStartIsSingleFlight(t *testing.T) {
	launches := new(int32)
	fl := &fakeLauncher{launches: launches}
	bus := events.New()

	m := New("math", func() *session.Session { return session.New("math", fl) }, bus, 0, 0)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(launches), "transport must be launched exactly once across all concurrent callers")
	assert.Equal(t, Ready, m.State())
}

func TestInvokeTransitionsColdToReady(t *testing.T) {
	launches := new(int32)
	fl := &fakeLauncher{launches: launches}
	bus := events.New()
	m := New("math", func() *session.Session { return session.New("math", fl) }, bus, 0, 0)

	assert.Equal(t, Cold, m.State())
	result, err := m.Invoke(context.Background(), "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, Ready, m.State())
}

func TestShutdownIsIdempotentAndRestartsCleanly(t *testing.T) {
	launches := new(int32)
	fl := &fakeLauncher{launches: launches}
	bus := events.New()
	m := New("math", func() *session.Session { return session.New("math", fl) }, bus, 0, 0)

	_, err := m.Invoke(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, Cold, m.State())

	_, err = m.Invoke(context.Background(), "add", map[string]any{"a": 2, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, int32(2), atomic.LoadInt32(launches))
}

var emptySchema = json.RawMessage(`{"type":"object"}`)
