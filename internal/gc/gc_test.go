package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapyr/mcp-hangar/internal/manager"
)

type fakeReclaimable struct {
	state        manager.State
	lastUsed     time.Time
	inFlight     int
	shutdownHits int
}

func (f *fakeReclaimable) State() manager.State    { return f.state }
func (f *fakeReclaimable) LastUsed() time.Time     { return f.lastUsed }
func (f *fakeReclaimable) InFlight() int           { return f.inFlight }
func (f *fakeReclaimable) Shutdown(context.Context) error {
	f.shutdownHits++
	f.state = manager.Cold
	return nil
}

type fakeGroup struct {
	healthy    int
	minHealthy int
}

func (g *fakeGroup) HealthyCount() int    { return g.healthy }
func (g *fakeGroup) MinHealthyValue() int { return g.minHealthy }

type fakeRegistry struct {
	providers map[string]*fakeReclaimable
	groupsOf  map[string][]GroupMembership
}

func (r *fakeRegistry) ProviderIDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

func (r *fakeRegistry) ProviderReclaimable(id string) (Reclaimable, bool) {
	m, ok := r.providers[id]
	return m, ok
}

func (r *fakeRegistry) GroupsOf(id string) []GroupMembership {
	return r.groupsOf[id]
}

func TestSweepReclaimsIdleProviderWithNoGroup(t *testing.T) {
	reg := &fakeRegistry{providers: map[string]*fakeReclaimable{
		"p1": {state: manager.Ready, lastUsed: time.Now().Add(-time.Hour)},
	}}
	w := NewWorker(reg, nil, func(string) time.Duration { return time.Minute }, time.Second)

	w.sweep(context.Background())

	assert.Equal(t, 1, reg.providers["p1"].shutdownHits)
	assert.Equal(t, manager.Cold, reg.providers["p1"].state)
}

func TestSweepSkipsProviderStillWithinIdleTTL(t *testing.T) {
	reg := &fakeRegistry{providers: map[string]*fakeReclaimable{
		"p1": {state: manager.Ready, lastUsed: time.Now()},
	}}
	w := NewWorker(reg, nil, func(string) time.Duration { return time.Hour }, time.Second)

	w.sweep(context.Background())

	assert.Equal(t, 0, reg.providers["p1"].shutdownHits)
}

func TestSweepSkipsProviderWithInFlightCalls(t *testing.T) {
	reg := &fakeRegistry{providers: map[string]*fakeReclaimable{
		"p1": {state: manager.Ready, lastUsed: time.Now().Add(-time.Hour), inFlight: 1},
	}}
	w := NewWorker(reg, nil, func(string) time.Duration { return time.Minute }, time.Second)

	w.sweep(context.Background())

	assert.Equal(t, 0, reg.providers["p1"].shutdownHits)
}

func TestSweepSkipsProviderBelowGroupMinHealthy(t *testing.T) {
	reg := &fakeRegistry{
		providers: map[string]*fakeReclaimable{
			"p1": {state: manager.Ready, lastUsed: time.Now().Add(-time.Hour)},
		},
		groupsOf: map[string][]GroupMembership{
			"p1": {&fakeGroup{healthy: 1, minHealthy: 1}},
		},
	}
	w := NewWorker(reg, nil, func(string) time.Duration { return time.Minute }, time.Second)

	w.sweep(context.Background())

	assert.Equal(t, 0, reg.providers["p1"].shutdownHits, "reclaiming p1 would drop the group's healthy count to 0, below min_healthy 1")
}

func TestSweepReclaimsWhenGroupHasSlack(t *testing.T) {
	reg := &fakeRegistry{
		providers: map[string]*fakeReclaimable{
			"p1": {state: manager.Ready, lastUsed: time.Now().Add(-time.Hour)},
		},
		groupsOf: map[string][]GroupMembership{
			"p1": {&fakeGroup{healthy: 2, minHealthy: 1}},
		},
	}
	w := NewWorker(reg, nil, func(string) time.Duration { return time.Minute }, time.Second)

	w.sweep(context.Background())

	assert.Equal(t, 1, reg.providers["p1"].shutdownHits)
}

func TestSweepIgnoresColdAndDeadProviders(t *testing.T) {
	reg := &fakeRegistry{providers: map[string]*fakeReclaimable{
		"cold": {state: manager.Cold, lastUsed: time.Now().Add(-time.Hour)},
		"dead": {state: manager.Dead, lastUsed: time.Now().Add(-time.Hour)},
	}}
	w := NewWorker(reg, nil, func(string) time.Duration { return time.Minute }, time.Second)

	w.sweep(context.Background())

	require.Equal(t, 0, reg.providers["cold"].shutdownHits)
	require.Equal(t, 0, reg.providers["dead"].shutdownHits)
}
