// Package group implements the Provider Group (spec §4.6): a named set of
// members sharing a routing Strategy, a Circuit Breaker, and a min_healthy
// policy, plus the Load Balancer wiring that picks among live members.
//
// Grounded on spec.md §4.6/§9's "weak reference via lookup, never owning"
// design note and on the teacher's own never-owning lookup pattern in
// clientpool.go, where a client looks up catalog.ServerConfig by name on
// every call rather than holding it.
package group

import (
	"errors"
	"time"

	"github.com/mapyr/mcp-hangar/internal/breaker"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/lb"
)

// MemberSpec is one configured group member (spec §6's `members:` list).
type MemberSpec struct {
	ID       string
	Weight   int
	Priority int
}

// ManagerView is the subset of *manager.Manager's surface a Group needs to
// judge member health — kept as an interface so this package never imports
// internal/manager (spec §9: groups hold weak references, looked up by id,
// never owning pointers).
type ManagerView interface {
	IsReadyOrDegraded() bool
	IsReady() bool
	InFlightCount() int
}

// Lookup resolves a member id to its live Manager view through the
// Registry. Returns false if the id is unknown (e.g. removed by a config
// reload).
type Lookup func(id string) (ManagerView, bool)

// Group is a Provider Group: a set of member providers behind one id, with
// a min_healthy floor, a circuit breaker and a Load Balancer. Degraded
// members count toward min_healthy and are eligible for selection.
type Group struct {
	ID         string
	Members    []MemberSpec
	MinHealthy int
	Strategy   lb.Strategy
	Breaker    *breaker.Breaker

	lookup Lookup
}

// New builds a Group. lookup resolves member ids to their live Manager
// state through the shared Registry.
func New(id string, members []MemberSpec, minHealthy int, strategy lb.Strategy, cb *breaker.Breaker, lookup Lookup) *Group {
	return &Group{ID: id, Members: members, MinHealthy: minHealthy, Strategy: strategy, Breaker: cb, lookup: lookup}
}

func (g *Group) healthyCount() int {
	n := 0
	for _, m := range g.Members {
		if view, ok := g.lookup(m.ID); ok && view.IsReadyOrDegraded() {
			n++
		}
	}
	return n
}

// HealthyCount exposes the same count healthyCount computes internally, for
// callers outside the package (the Idle GC worker's "would reclaiming this
// provider drop the group below min_healthy" check) that must not import
// internal/manager to get it themselves.
func (g *Group) HealthyCount() int {
	return g.healthyCount()
}

// MinHealthyValue exposes MinHealthy as a method so callers depending on a
// small interface (gc.GroupMembership) don't need the concrete *Group type.
func (g *Group) MinHealthyValue() int {
	return g.MinHealthy
}

// Dispatchable reports spec §8's invariant:
// dispatchable(g) ⇔ |{m ∈ members(g) : ready ∨ degraded}| ≥ min_healthy(g) ∧ breaker(g) ≠ open.
func (g *Group) Dispatchable() bool {
	if g.healthyCount() < g.MinHealthy {
		return false
	}
	return g.Breaker.State() != breaker.Open
}

// candidatesWith builds the lb.Member slice Select needs, marking a member
// Healthy per the supplied eligibility check.
func (g *Group) candidatesWith(eligible func(ManagerView) bool) []lb.Member {
	candidates := make([]lb.Member, 0, len(g.Members))
	for _, m := range g.Members {
		view, ok := g.lookup(m.ID)
		healthy := ok && eligible(view)
		inFlight := 0
		if ok {
			inFlight = view.InFlightCount()
		}
		candidates = append(candidates, lb.Member{ID: m.ID, Weight: m.Weight, Priority: m.Priority, Healthy: healthy, InFlight: inFlight})
	}
	return candidates
}

// SelectMember resolves the group's routing strategy against the live
// health of its members and returns the chosen member id. Callers must
// have already confirmed Dispatchable (or be willing to accept
// group_unavailable here too, since this re-checks min_healthy).
//
// Selection prefers strictly-ready members first, falling back to
// degraded ones only when no ready member remains (spec §8 scenario 3,
// priority failover: a degraded p1 must not keep winning over a ready
// p2, but a group with nothing but degraded members is still
// dispatchable per the ready-or-degraded invariant).
func (g *Group) SelectMember() (string, error) {
	if g.healthyCount() < g.MinHealthy {
		return "", hangarerr.New(hangarerr.GroupUnavailable, "group "+g.ID+" below min_healthy")
	}

	picked, err := g.Strategy.Select(g.candidatesWith(ManagerView.IsReady))
	if errors.Is(err, lb.ErrNoHealthyMembers) {
		picked, err = g.Strategy.Select(g.candidatesWith(ManagerView.IsReadyOrDegraded))
	}
	if err != nil {
		return "", hangarerr.Wrap(hangarerr.GroupUnavailable, "no member available in group "+g.ID, err)
	}
	return picked.ID, nil
}

// AllowDispatch consults the circuit breaker for a fast-fail decision and
// returns whether to proceed plus the admission state to report back via
// RecordOutcome.
func (g *Group) AllowDispatch(now time.Time) (bool, breaker.State) {
	return g.Breaker.Allow(now)
}

// RecordOutcome reports a dispatch's result back to the group's breaker.
func (g *Group) RecordOutcome(admittedAs breaker.State, success bool, now time.Time) {
	g.Breaker.RecordResult(admittedAs, success, now)
}
