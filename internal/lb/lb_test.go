package lb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinCyclesInOrder(t *testing.T) {
	rr := NewRoundRobin()
	members := []Member{{ID: "a", Healthy: true}, {ID: "b", Healthy: true}, {ID: "c", Healthy: true}}

	var picks []string
	for i := 0; i < 6; i++ {
		m, err := rr.Select(members)
		require.NoError(t, err)
		picks = append(picks, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picks)
}

func TestWeightedRoundRobinRespectsWeights(t *testing.T) {
	w := NewWeightedRoundRobin()
	members := []Member{{ID: "heavy", Weight: 3, Healthy: true}, {ID: "light", Weight: 1, Healthy: true}}

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		m, err := w.Select(members)
		require.NoError(t, err)
		counts[m.ID]++
	}
	assert.Equal(t, 6, counts["heavy"])
	assert.Equal(t, 2, counts["light"])
}

func TestPriorityPicksLowestNumberWinsTiesRoundRobin(t *testing.T) {
	p := NewPriority()
	members := []Member{
		{ID: "p1", Priority: 1, Healthy: true},
		{ID: "p2", Priority: 2, Healthy: true},
	}
	m, err := p.Select(members)
	require.NoError(t, err)
	assert.Equal(t, "p1", m.ID)

	tied := []Member{{ID: "a", Priority: 1, Healthy: true}, {ID: "b", Priority: 1, Healthy: true}}
	first, err := p.Select(tied)
	require.NoError(t, err)
	second, err := p.Select(tied)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "tied priorities should round-robin")
}

func TestLeastConnectionsPicksFewestInFlight(t *testing.T) {
	l := NewLeastConnections()
	members := []Member{
		{ID: "busy", InFlight: 5, Healthy: true},
		{ID: "idle", InFlight: 0, Healthy: true},
	}
	m, err := l.Select(members)
	require.NoError(t, err)
	assert.Equal(t, "idle", m.ID)
}

func TestStrategiesRejectWhenNoHealthyMembers(t *testing.T) {
	members := []Member{{ID: "a", Healthy: false}}
	_, err := NewRoundRobin().Select(members)
	assert.ErrorIs(t, err, ErrNoHealthyMembers)
	_, err = NewRandom().Select(members)
	assert.ErrorIs(t, err, ErrNoHealthyMembers)
	_, err = NewPriority().Select(members)
	assert.ErrorIs(t, err, ErrNoHealthyMembers)
	_, err = NewLeastConnections().Select(members)
	assert.ErrorIs(t, err, ErrNoHealthyMembers)
}
