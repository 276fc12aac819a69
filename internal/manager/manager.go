// Package manager implements the Provider Manager (spec §4.3): per-provider
// lifecycle state machine (cold → initializing → ready → degraded → dead),
// single-flight cold start, and the invoke path's ensure-ready + semaphore
// + health-reporting sequence.
//
// Single-flight is grounded on golang.org/x/sync/singleflight usage in
// other_examples/682561fa_step-chen-agent-sets__internal-client-mcp.go.go
// and its sibling mcp_conn.go.go (`requestGroup singleflight.Group`,
// `Do(name, func(){...})` to coalesce concurrent reconnections) — the same
// shape generalized here to coalesce concurrent ensure_ready calls. The
// per-provider concurrency bound uses golang.org/x/sync/semaphore, the
// sibling package in the same module the teacher already depends on via
// golang.org/x/sync/errgroup.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/session"
)

// State is the Provider Manager's tagged-union lifecycle state (spec §4.3 /
// §9 "state machines as tagged variants").
type State int

const (
	Cold State = iota
	Initializing
	Ready
	Degraded
	Dead
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Starter constructs a fresh Session for a cold provider. Implementations
// build a transport.Launcher from the provider's ProviderSpec and wrap it
// in session.New.
type Starter func() *session.Session

// Manager owns one provider's Session across its lifetime, exposing
// ensure_ready/invoke/shutdown with single-flight coalesced starts.
type Manager struct {
	ProviderID  string
	MaxRetries  int
	Concurrency int64

	starter Starter
	bus     *events.Bus

	mu       sync.Mutex
	state    State
	sess     *session.Session
	lastUsed time.Time
	inFlight int
	sf       singleflight.Group
	sem      *semaphore.Weighted
}

// New builds a Manager for one provider. concurrency bounds simultaneous
// in-flight invocations on this provider (0 means unbounded).
func New(providerID string, starter Starter, bus *events.Bus, maxRetries int, concurrency int64) *Manager {
	m := &Manager{
		ProviderID:  providerID,
		MaxRetries:  maxRetries,
		Concurrency: concurrency,
		starter:     starter,
		bus:         bus,
		state:       Cold,
	}
	if concurrency > 0 {
		m.sem = semaphore.NewWeighted(concurrency)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tools returns the provider's cached tool catalog, or nil if it has never
// completed a handshake (spec §9 Open Question #1: declared tools, not this
// live catalog, cover that gap — see ProviderSpec.Tools in internal/config
// and the declared-tools fallback in internal/server).
func (m *Manager) Tools() []session.Tool {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Tools()
}

// LastUsed returns the timestamp of the most recent invoke completion.
func (m *Manager) LastUsed() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

// InFlight returns the number of invocations currently in progress on this
// provider (used by Idle GC and least_connections load balancing).
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// IsReadyOrDegraded satisfies group.ManagerView: spec §8's dispatchable
// invariant counts both ready and degraded members toward min_healthy.
func (m *Manager) IsReadyOrDegraded() bool {
	s := m.State()
	return s == Ready || s == Degraded
}

// IsReady satisfies group.ManagerView: strictly ready, excluding degraded.
// The Load Balancer uses this to prefer fully-healthy members over
// degraded ones, falling back to degraded only when no ready member is
// left (spec §8 scenario 3, priority failover).
func (m *Manager) IsReady() bool {
	return m.State() == Ready
}

// InFlightCount satisfies group.ManagerView.
func (m *Manager) InFlightCount() int {
	return m.InFlight()
}

// EnsureReady starts the provider if cold, coalescing concurrent callers
// into a single transport launch (spec §4.3 "single-flight start"): every
// caller in the overlapping set observes the same outcome.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case Ready, Degraded:
		return nil
	case Dead:
		return hangarerr.New(hangarerr.ProviderColdStartFailed, fmt.Sprintf("provider %s is dead", m.ProviderID))
	}

	_, err, _ := m.sf.Do("ensure_ready", func() (any, error) {
		m.mu.Lock()
		if m.state == Ready || m.state == Degraded {
			m.mu.Unlock()
			return nil, nil
		}
		m.state = Initializing
		m.mu.Unlock()

		m.bus.Publish(events.Event{Kind: events.ProviderStarting, ProviderID: m.ProviderID})

		var lastErr error
		sess := m.starter()
		for attempt := 0; attempt <= m.MaxRetries; attempt++ {
			lastErr = sess.Start(ctx)
			if lastErr == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}

		if lastErr != nil {
			m.mu.Lock()
			m.state = Dead
			m.mu.Unlock()
			m.bus.Publish(events.Event{Kind: events.ProviderStopped, ProviderID: m.ProviderID, Message: lastErr.Error()})
			return nil, hangarerr.Wrap(hangarerr.ProviderColdStartFailed, "starting provider "+m.ProviderID, lastErr)
		}

		m.mu.Lock()
		m.sess = sess
		m.state = Ready
		m.mu.Unlock()
		m.bus.Publish(events.Event{Kind: events.ProviderReady, ProviderID: m.ProviderID})
		return nil, nil
	})

	return err
}

// Invoke runs EnsureReady, then dispatches to the Session under the
// per-provider concurrency semaphore, and updates last_used (spec §4.3
// "Invoke contract"). Health reporting is the caller's responsibility (the
// Dispatch Engine owns the shared Health Tracker); Invoke returns the raw
// outcome for that purpose.
func (m *Manager) Invoke(ctx context.Context, tool string, args map[string]any) (result *mcp.CallToolResult, err error) {
	if err := m.EnsureReady(ctx); err != nil {
		return nil, err
	}

	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, hangarerr.Wrap(hangarerr.Cancelled, "waiting for provider concurrency slot", err)
		}
		defer m.sem.Release(1)
	}

	m.mu.Lock()
	sess := m.sess
	m.inFlight++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.lastUsed = time.Now()
		m.mu.Unlock()
	}()

	if sess == nil {
		return nil, hangarerr.New(hangarerr.TransportError, fmt.Sprintf("provider %s has no active session", m.ProviderID))
	}

	return sess.Invoke(ctx, tool, args)
}

// Probe issues the Health Worker's cheap liveness check (spec §4.4:
// "a tools/list call over the existing Session"), refreshing the cached
// tool catalog as a side effect. Returns an error (and leaves the catalog
// untouched) if the provider has no active session.
func (m *Manager) Probe(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return hangarerr.New(hangarerr.TransportError, fmt.Sprintf("provider %s has no active session to probe", m.ProviderID))
	}
	return sess.Refresh(ctx)
}

// MarkDegraded transitions ready → degraded (called by the Health Tracker
// path when consecutive failures cross the threshold).
func (m *Manager) MarkDegraded() {
	m.mu.Lock()
	if m.state == Ready {
		m.state = Degraded
	}
	m.mu.Unlock()
}

// MarkRecovered transitions degraded → ready.
func (m *Manager) MarkRecovered() {
	m.mu.Lock()
	if m.state == Degraded {
		m.state = Ready
	}
	m.mu.Unlock()
}

// Shutdown transitions the provider back to cold, closing its transport.
// Idempotent (spec §4.3).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	state := m.state
	m.sess = nil
	m.state = Cold
	m.mu.Unlock()

	if state == Cold || sess == nil {
		return nil
	}

	err := sess.Close(ctx)
	m.bus.Publish(events.Event{Kind: events.ProviderStopped, ProviderID: m.ProviderID})
	return err
}
