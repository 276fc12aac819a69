package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapyr/mcp-hangar/internal/events"
)

func TestInitAndBridgeRecordsEvents(t *testing.T) {
	shutdown, instruments, err := Init("hangar-test")
	require.NoError(t, err)
	defer shutdown(context.Background())
	require.NotNil(t, instruments)

	bus := events.New()
	bridge := NewBridge(bus, instruments)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	bus.Publish(events.Event{Kind: events.ToolInvoked, DurationMs: 12})
	bus.Publish(events.Event{Kind: events.ToolFailed, DurationMs: 5, ErrorKind: "timeout"})

	require.Eventually(t, func() bool {
		families, gatherErr := prometheus.DefaultGatherer.Gather()
		require.NoError(t, gatherErr)
		for _, fam := range families {
			if fam.GetName() == "hangar_tool_invocations_total" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "expected hangar_tool_invocations_total to appear after bridging a ToolInvoked event")
}

func TestMetricsHandlerIsNotNil(t *testing.T) {
	assert.NotNil(t, MetricsHandler())
}
