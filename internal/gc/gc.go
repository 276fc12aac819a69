// Package gc implements the Idle GC Worker (spec §4.9): a periodic scan
// that shuts down providers that have sat ready/degraded with zero
// in-flight calls for longer than their configured idle_ttl_s, while never
// reclaiming a provider whose removal would drop one of its groups below
// min_healthy.
//
// Grounded on internal/health's Worker ticker idiom
// (select{ctx.Done(), ticker.C}), itself grounded on the teacher's
// Gateway.periodicMetricExport loop.
package gc

import (
	"context"
	"time"

	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/manager"
)

// Reclaimable is the subset of *manager.Manager the Worker needs.
type Reclaimable = interface {
	State() manager.State
	LastUsed() time.Time
	InFlight() int
	Shutdown(ctx context.Context) error
}

// GroupMembership is the subset of *group.Group the Worker needs to decide
// whether reclaiming a member would breach min_healthy.
type GroupMembership = interface {
	HealthyCount() int
	MinHealthyValue() int
}

// Registry is the subset of *registry.Registry the Worker scans.
type Registry interface {
	ProviderIDs() []string
	ProviderReclaimable(id string) (Reclaimable, bool)
	GroupsOf(id string) []GroupMembership
}

// Worker periodically reclaims idle providers (spec §4.9).
type Worker struct {
	registry Registry
	bus      *events.Bus
	idleTTL  func(providerID string) time.Duration
	interval time.Duration
}

// NewWorker builds an Idle GC Worker. idleTTL resolves each provider's
// configured idle_ttl_s (spec §4.9: "per-provider, defaulting to 300s").
func NewWorker(reg Registry, bus *events.Bus, idleTTL func(providerID string) time.Duration, interval time.Duration) *Worker {
	return &Worker{registry: reg, bus: bus, idleTTL: idleTTL, interval: interval}
}

// Run blocks, sweeping idle providers once per tick, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	now := time.Now()
	for _, id := range w.registry.ProviderIDs() {
		m, ok := w.registry.ProviderReclaimable(id)
		if !ok {
			continue
		}
		if !w.eligible(id, m, now) {
			continue
		}
		_ = m.Shutdown(ctx)
	}
}

func (w *Worker) eligible(providerID string, m Reclaimable, now time.Time) bool {
	state := m.State()
	if state != manager.Ready && state != manager.Degraded {
		return false
	}
	if m.InFlight() != 0 {
		return false
	}
	if now.Sub(m.LastUsed()) < w.idleTTL(providerID) {
		return false
	}
	for _, grp := range w.registry.GroupsOf(providerID) {
		// This provider currently counts toward healthyCount (it is
		// ready/degraded, checked above); reclaiming it would remove one
		// from that count, so require one more than min_healthy to stay
		// safely dispatchable (spec §4.9: "never reclaims a provider that
		// is part of a group currently below min_healthy").
		if grp.HealthyCount()-1 < grp.MinHealthyValue() {
			return false
		}
	}
	return true
}
