package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mapyr/mcp-hangar/internal/events"
)

func TestTrackerDegradesAtThreshold(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	tr := New(bus, 3)
	now := time.Now()

	assert.False(t, tr.RecordOutcome("p1", false, "boom", now))
	assert.False(t, tr.RecordOutcome("p1", false, "boom", now))
	assert.True(t, tr.RecordOutcome("p1", false, "boom", now), "third consecutive failure should degrade")
	assert.True(t, tr.IsDegraded("p1"))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.ProviderDegraded, ev.Kind)
	default:
		t.Fatal("expected a ProviderDegraded event")
	}
}

func TestTrackerRecoversOnSuccess(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	tr := New(bus, 1)
	now := time.Now()

	tr.RecordOutcome("p1", false, "boom", now)
	<-sub.Events() // degraded event

	assert.True(t, tr.RecordOutcome("p1", true, "", now))
	assert.False(t, tr.IsDegraded("p1"))

	ev := <-sub.Events()
	assert.Equal(t, events.ProviderRecovered, ev.Kind)
}

func TestTrackerPerProviderThresholdOverride(t *testing.T) {
	bus := events.New()
	tr := New(bus, 10)
	tr.SetThreshold("flaky", 1)
	now := time.Now()

	assert.True(t, tr.RecordOutcome("flaky", false, "boom", now), "override threshold of 1 should degrade immediately")
}
