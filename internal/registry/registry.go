// Package registry implements the Registry of spec §3/§5: a read-mostly
// map of providers and groups with an exclusive-lock reload path,
// providing the lookups every other component resolves ids through.
//
// Grounded directly on the teacher's clientPool.keptClients
// map[clientKey]keptClient guarded by clientLock sync.RWMutex
// (cmd/docker-mcp/internal/gateway/clientpool.go) — read-mostly concurrent
// map with an exclusive-lock mutation path, generalized here from a
// client cache to the full provider/group registry spec §5 describes.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mapyr/mcp-hangar/internal/breaker"
	"github.com/mapyr/mcp-hangar/internal/config"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/group"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/lb"
	"github.com/mapyr/mcp-hangar/internal/manager"
	"github.com/mapyr/mcp-hangar/internal/session"
	"github.com/mapyr/mcp-hangar/internal/transport"
)

// LauncherFactory builds the transport.Launcher for one provider spec. A
// free function rather than a method so tests can substitute fakes without
// touching real subprocesses/containers/HTTP endpoints.
type LauncherFactory func(spec config.ProviderSpec) (transport.Launcher, error)

// DefaultLauncherFactory builds subprocess/container/remote launchers per
// spec §4.1, dispatching on ProviderSpec.Mode.
func DefaultLauncherFactory(spec config.ProviderSpec) (transport.Launcher, error) {
	const graceDefault = 5 * time.Second

	switch spec.Mode {
	case config.ModeSubprocess:
		if len(spec.Command) == 0 {
			return nil, fmt.Errorf("registry: provider %s: subprocess mode requires a command", spec.ID)
		}
		var env []string
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		return transport.NewSubprocessLauncher(spec.ID, spec.Command, env, graceDefault), nil

	case config.ModeContainer:
		return transport.NewContainerLauncher(transport.ContainerSpec{
			Name:     spec.ID,
			Image:    spec.Image,
			Volumes:  spec.Volumes,
			Network:  spec.Network,
			ReadOnly: !spec.Writable,
			Memory:   spec.Resources.Memory,
			CPUs:     spec.Resources.CPU,
		}, graceDefault)

	case config.ModeRemote:
		connect := time.Duration(spec.HTTP.ConnectTimeoutS * float64(time.Second))
		read := time.Duration(spec.HTTP.ReadTimeoutS * float64(time.Second))
		return transport.NewRemoteLauncher(spec.ID, spec.Endpoint, false, connect, read), nil

	default:
		return nil, fmt.Errorf("registry: provider %s: unsupported mode %s", spec.ID, spec.Mode)
	}
}

// Registry holds every configured provider Manager and Group, keyed by
// ProviderId, under a read-mostly lock (spec §5 "Shared resources").
type Registry struct {
	bus     *events.Bus
	tracker *health.Tracker
	factory LauncherFactory

	mu        sync.RWMutex
	providers map[string]*manager.Manager
	specs     map[string]config.ProviderSpec
	groups    map[string]*group.Group
}

// New builds an empty Registry.
func New(bus *events.Bus, tracker *health.Tracker, factory LauncherFactory) *Registry {
	if factory == nil {
		factory = DefaultLauncherFactory
	}
	r := &Registry{
		bus:       bus,
		tracker:   tracker,
		factory:   factory,
		providers: make(map[string]*manager.Manager),
		specs:     make(map[string]config.ProviderSpec),
		groups:    make(map[string]*group.Group),
	}
	go r.watchHealthTransitions()
	return r
}

// watchHealthTransitions subscribes to the Event Bus and propagates the
// Health Tracker's degraded/recovered transitions (spec §4.4) into the
// corresponding Provider Manager's state machine (spec §4.3: ready <->
// degraded), the missing link between a provider failing its health
// threshold and it actually being routed around.
func (r *Registry) watchHealthTransitions() {
	sub := r.bus.Subscribe()
	for ev := range sub.Events() {
		switch ev.Kind {
		case events.ProviderDegraded:
			if m, ok := r.Provider(ev.ProviderID); ok {
				m.MarkDegraded()
			}
		case events.ProviderRecovered:
			if m, ok := r.Provider(ev.ProviderID); ok {
				m.MarkRecovered()
			}
		}
	}
}

func newStrategy(s config.Strategy) (lb.Strategy, error) {
	switch s {
	case config.StrategyRoundRobin:
		return lb.NewRoundRobin(), nil
	case config.StrategyWeightedRoundRobin:
		return lb.NewWeightedRoundRobin(), nil
	case config.StrategyRandom:
		return lb.NewRandom(), nil
	case config.StrategyPriority:
		return lb.NewPriority(), nil
	case config.StrategyLeastConnections:
		return lb.NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("registry: unknown strategy %s", s)
	}
}

// LoadFromConfig replaces the registry's providers/groups with those
// described by f, taking the exclusive lock for the whole swap (spec §5:
// "writes (config reload, add/remove) take an exclusive lock").
// Non-group providers are built first so group member lookups always
// resolve.
func (r *Registry) LoadFromConfig(f *config.File) error {
	providers := make(map[string]*manager.Manager)
	specs := make(map[string]config.ProviderSpec)

	for id, spec := range f.Providers {
		if spec.Mode == config.ModeGroup {
			continue
		}
		spec := spec
		m := manager.New(id, func() *session.Session {
			launcher, err := r.factory(spec)
			if err != nil {
				return session.New(id, failingLauncher{err: err})
			}
			return session.New(id, launcher)
		}, r.bus, 2, 0)
		providers[id] = m
		specs[id] = spec
		r.tracker.SetThreshold(id, spec.MaxConsecutiveFailures)
	}

	groups := make(map[string]*group.Group)
	for id, spec := range f.Providers {
		if spec.Mode != config.ModeGroup {
			continue
		}
		strategy, err := newStrategy(spec.Strategy)
		if err != nil {
			return err
		}
		members := make([]group.MemberSpec, 0, len(spec.Members))
		for _, m := range spec.Members {
			members = append(members, group.MemberSpec{ID: m.ID, Weight: m.Weight, Priority: m.Priority})
		}
		resetTimeout := time.Duration(spec.CircuitBreaker.ResetTimeoutS * float64(time.Second))
		threshold := spec.CircuitBreaker.FailureThreshold
		cb := breaker.New(threshold, resetTimeout)

		lookup := func(memberID string) (group.ManagerView, bool) {
			r.mu.RLock()
			defer r.mu.RUnlock()
			m, ok := providers[memberID]
			return m, ok
		}
		groups[id] = group.New(id, members, spec.MinHealthy, strategy, cb, lookup)
	}

	r.mu.Lock()
	r.providers = providers
	r.specs = specs
	r.groups = groups
	r.mu.Unlock()
	return nil
}

// Discover re-reads f and adds any provider/group ids not already present,
// leaving every existing Manager/Group untouched (spec §6 registry_discover:
// "adds any newly-declared providers/groups to the Registry without
// disturbing existing ones", unlike LoadFromConfig's full-swap reload).
func (r *Registry) Discover(f *config.File) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string

	for id, spec := range f.Providers {
		if spec.Mode == config.ModeGroup {
			continue
		}
		if _, exists := r.providers[id]; exists {
			continue
		}
		spec := spec
		m := manager.New(id, func() *session.Session {
			launcher, err := r.factory(spec)
			if err != nil {
				return session.New(id, failingLauncher{err: err})
			}
			return session.New(id, launcher)
		}, r.bus, 2, 0)
		r.providers[id] = m
		r.specs[id] = spec
		r.tracker.SetThreshold(id, spec.MaxConsecutiveFailures)
		added = append(added, id)
	}

	for id, spec := range f.Providers {
		if spec.Mode != config.ModeGroup {
			continue
		}
		if _, exists := r.groups[id]; exists {
			continue
		}
		strategy, err := newStrategy(spec.Strategy)
		if err != nil {
			return added, err
		}
		members := make([]group.MemberSpec, 0, len(spec.Members))
		for _, m := range spec.Members {
			members = append(members, group.MemberSpec{ID: m.ID, Weight: m.Weight, Priority: m.Priority})
		}
		resetTimeout := time.Duration(spec.CircuitBreaker.ResetTimeoutS * float64(time.Second))
		cb := breaker.New(spec.CircuitBreaker.FailureThreshold, resetTimeout)

		providers := r.providers
		lookup := func(memberID string) (group.ManagerView, bool) {
			r.mu.RLock()
			defer r.mu.RUnlock()
			m, ok := providers[memberID]
			return m, ok
		}
		r.groups[id] = group.New(id, members, spec.MinHealthy, strategy, cb, lookup)
		added = append(added, id)
	}

	return added, nil
}

// failingLauncher is used when a ProviderSpec could not produce a real
// Launcher (e.g. an unsupported mode slipped past config validation); it
// makes that failure surface through the normal cold-start error path
// instead of a nil-pointer panic deep in the Manager.
type failingLauncher struct{ err error }

func (f failingLauncher) Launch(context.Context) (mcp.Transport, error) { return nil, f.err }
func (f failingLauncher) Close(context.Context) error                  { return nil }
func (f failingLauncher) Alive() bool                                  { return false }
func (f failingLauncher) Stderr() []string                             { return nil }

// Provider looks up a provider Manager by id.
func (r *Registry) Provider(id string) (*manager.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.providers[id]
	return m, ok
}

// Group looks up a Group by id.
func (r *Registry) Group(id string) (*group.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// Spec returns the ProviderSpec a provider was constructed from.
func (r *Registry) Spec(id string) (config.ProviderSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}

// Resolve classifies target_id as a provider or a group (spec §4.7 step 1),
// returning hangarerr.UnknownTarget if neither exists.
func (r *Registry) Resolve(targetID string) (provider *manager.Manager, g *group.Group, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.providers[targetID]; ok {
		return m, nil, nil
	}
	if gr, ok := r.groups[targetID]; ok {
		return nil, gr, nil
	}
	return nil, nil, hangarerr.New(hangarerr.UnknownTarget, "no such provider or group: "+targetID)
}

// ProviderSummary is one row of registry_list().
type ProviderSummary struct {
	ID         string
	State      string
	Mode       string
	ToolsCount int
}

// List returns a summary row per provider (spec §6 registry_list),
// excluding groups.
func (r *Registry) List() []ProviderSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderSummary, 0, len(r.providers))
	for id, m := range r.providers {
		out = append(out, ProviderSummary{
			ID:    id,
			State: m.State().String(),
			Mode:  r.specs[id].Mode.String(),
		})
	}
	return out
}

// ProviderIDs returns every configured provider id, used by the Idle GC and
// Health Worker to enumerate scan targets.
func (r *Registry) ProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

// GroupsContaining returns every group that lists providerID as a member
// (used by Idle GC's "never reclaim a provider whose group is below
// min_healthy" rule).
func (r *Registry) GroupsContaining(providerID string) []*group.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*group.Group
	for _, g := range r.groups {
		for _, m := range g.Members {
			if m.ID == providerID {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// ProviderReclaimable looks up a provider's Manager for the Idle GC Worker,
// typed as the small gc.Reclaimable interface it needs (registry.go never
// imports internal/gc; the interface is satisfied structurally).
func (r *Registry) ProviderReclaimable(id string) (interface {
	State() manager.State
	LastUsed() time.Time
	InFlight() int
	Shutdown(ctx context.Context) error
}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.providers[id]
	return m, ok
}

// ProbeTargets satisfies health.TargetSet: every provider currently ready
// or degraded is worth a periodic liveness probe (spec §4.4); cold or dead
// providers have no session to probe.
func (r *Registry) ProbeTargets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, m := range r.providers {
		if m.IsReadyOrDegraded() {
			out = append(out, id)
		}
	}
	return out
}

// Probe satisfies health.Prober by delegating to the named provider's
// Manager.
func (r *Registry) Probe(ctx context.Context, providerID string) error {
	m, ok := r.Provider(providerID)
	if !ok {
		return fmt.Errorf("registry: probe: no such provider %s", providerID)
	}
	return m.Probe(ctx)
}

// GroupsOf is GroupsContaining typed for the Idle GC Worker's
// gc.GroupMembership interface.
func (r *Registry) GroupsOf(providerID string) []interface {
	HealthyCount() int
	MinHealthyValue() int
} {
	groups := r.GroupsContaining(providerID)
	out := make([]interface {
		HealthyCount() int
		MinHealthyValue() int
	}, len(groups))
	for i, g := range groups {
		out[i] = g
	}
	return out
}
