// Package lb implements the pluggable member-selection strategies of spec
// §4.6: round_robin, weighted_round_robin, random, priority, and
// least_connections.
//
// No pack example implements MCP-specific load balancing directly, so this
// package follows the teacher's general "pluggable strategy selected by a
// tagged enum" shape (provisioners.ProvisionerType / provisioners.Provisioner
// interface) applied to member selection, rather than inventing a new
// idiom. math/rand is stdlib — no third-party RNG or load-balancer library
// appears anywhere in the retrieval pack.
package lb

import (
	"fmt"
	"math/rand"
	"sync"
)

// Member is one load-balancing candidate as seen by the strategies in this
// package — callers (internal/group) supply Healthy/InFlight from the live
// Manager/HealthTracker state each call.
type Member struct {
	ID       string
	Weight   int
	Priority int
	Healthy  bool
	InFlight int
}

// Strategy selects one member from a candidate set. Implementations must
// only ever choose among entries with Healthy == true; the caller is
// responsible for excluding circuit-isolated or not-ready members before
// calling Select.
type Strategy interface {
	Select(candidates []Member) (Member, error)
}

// ErrNoHealthyMembers is returned when a strategy's candidate set has zero
// healthy entries.
var ErrNoHealthyMembers = fmt.Errorf("lb: no healthy members available")

func healthyOnly(candidates []Member) []Member {
	out := make([]Member, 0, len(candidates))
	for _, c := range candidates {
		if c.Healthy {
			out = append(out, c)
		}
	}
	return out
}

// RoundRobin cycles through the healthy set in input order, advancing its
// index once per call.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Select(candidates []Member) (Member, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return Member{}, ErrNoHealthyMembers
	}
	r.mu.Lock()
	idx := r.next % len(healthy)
	r.next++
	r.mu.Unlock()
	return healthy[idx], nil
}

// WeightedRoundRobin implements smooth weighted round-robin: each member
// accrues its weight every call, the highest accrued value wins and is
// then discounted by the total weight — the classic Nginx SWRR algorithm.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[string]int
}

func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{current: make(map[string]int)}
}

func (w *WeightedRoundRobin) Select(candidates []Member) (Member, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return Member{}, ErrNoHealthyMembers
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	bestIdx := -1
	for i, m := range healthy {
		weight := m.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
		w.current[m.ID] += weight
		if bestIdx == -1 || w.current[m.ID] > w.current[healthy[bestIdx].ID] {
			bestIdx = i
		}
	}
	w.current[healthy[bestIdx].ID] -= total
	return healthy[bestIdx], nil
}

// Random picks uniformly over the healthy set.
type Random struct{}

func NewRandom() *Random { return &Random{} }

func (Random) Select(candidates []Member) (Member, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return Member{}, ErrNoHealthyMembers
	}
	return healthy[rand.Intn(len(healthy))], nil
}

// Priority picks the lowest Priority number among the healthy set, breaking
// ties with an internal round-robin among the tied members.
type Priority struct {
	rr *RoundRobin
}

func NewPriority() *Priority { return &Priority{rr: NewRoundRobin()} }

func (p *Priority) Select(candidates []Member) (Member, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return Member{}, ErrNoHealthyMembers
	}

	best := healthy[0].Priority
	for _, m := range healthy[1:] {
		if m.Priority < best {
			best = m.Priority
		}
	}

	var tied []Member
	for _, m := range healthy {
		if m.Priority == best {
			tied = append(tied, m)
		}
	}
	if len(tied) == 1 {
		return tied[0], nil
	}
	return p.rr.Select(tied)
}

// LeastConnections picks the healthy member with the fewest in-flight
// invocations (spec §9 Open Question: in-flight only, not queued), ties
// broken by input order.
type LeastConnections struct{}

func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

func (LeastConnections) Select(candidates []Member) (Member, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return Member{}, ErrNoHealthyMembers
	}
	best := healthy[0]
	for _, m := range healthy[1:] {
		if m.InFlight < best.InFlight {
			best = m
		}
	}
	return best, nil
}
