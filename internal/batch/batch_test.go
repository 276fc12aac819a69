package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
)

type fakeDispatcher struct {
	calls     int64
	failEvery map[string]bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, targetID, tool string, args map[string]any, deadline time.Time, correlationID string) (*mcp.CallToolResult, error) {
	atomic.AddInt64(&f.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failEvery[targetID] {
		return nil, fmt.Errorf("simulated failure for %s", targetID)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: targetID}}}, nil
}

func TestExecutePreservesInputOrder(t *testing.T) {
	d := &fakeDispatcher{failEvery: map[string]bool{}}
	bus := events.New()

	calls := make([]Call, 15)
	for i := range calls {
		calls[i] = Call{Target: fmt.Sprintf("p%d", i), Tool: "echo"}
	}

	results := Execute(context.Background(), d, bus, calls, time.Time{}, Options{MaxParallel: 4}, "corr-1")
	require.Len(t, results, 15)
	for i, r := range results {
		require.True(t, r.OK)
		assert.Equal(t, fmt.Sprintf("p%d", i), r.Value.Content[0].(*mcp.TextContent).Text)
	}
}

func TestExecutePerCallFailureDoesNotCancelSiblingsByDefault(t *testing.T) {
	d := &fakeDispatcher{failEvery: map[string]bool{"bad": true}}
	bus := events.New()

	calls := []Call{{Target: "good1", Tool: "echo"}, {Target: "bad", Tool: "echo"}, {Target: "good2", Tool: "echo"}}
	results := Execute(context.Background(), d, bus, calls, time.Time{}, Options{}, "corr-2")

	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.True(t, results[2].OK, "siblings must still run after a non-fail-fast failure")
}

func TestExecuteFailFastCancelsRemaining(t *testing.T) {
	d := &fakeDispatcher{failEvery: map[string]bool{"bad": true}}
	bus := events.New()

	calls := []Call{{Target: "bad", Tool: "echo"}, {Target: "slow", Tool: "echo"}}
	results := Execute(context.Background(), d, bus, calls, time.Time{}, Options{MaxParallel: 1, FailFast: true}, "corr-3")

	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.False(t, results[1].OK, "fail-fast must cancel the call still waiting for a slot")
	assert.Equal(t, hangarerr.Cancelled.String(), results[1].ErrorKind)
}
