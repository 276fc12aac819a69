// Package health implements the Health Tracker (spec §4.4): a per-provider
// consecutive-failure counter and the state transitions it drives
// (ProviderDegraded / ProviderRecovered).
//
// Grounded on the same circuitState shape as internal/breaker
// (other_examples/f569bff3_step-chen-agent-sets__internal-client-mcp_conn.go.go)
// generalized from a circuit gate to a plain failure counter, and on the
// teacher's periodic-goroutine idiom (Gateway.periodicMetricExport) for the
// Health Worker.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/mapyr/mcp-hangar/internal/events"
)

// Record is one provider's current health snapshot.
type Record struct {
	ConsecutiveFailures int
	LastOK              time.Time
	LastError           string
	Degraded            bool
}

// Prober issues a cheap liveness probe for one provider (spec §4.4: a
// `tools/list` call over the existing Session with a 5-second deadline).
type Prober interface {
	Probe(ctx context.Context, providerID string) error
}

// Tracker maintains per-provider health records and emits transition
// events on the shared Event Bus.
type Tracker struct {
	maxConsecutiveFailures map[string]int
	defaultMaxFailures     int
	bus                    *events.Bus

	mu      sync.Mutex
	records map[string]*Record
}

// New builds a Tracker. defaultMaxFailures is used for any provider not
// present in maxConsecutiveFailures.
func New(bus *events.Bus, defaultMaxFailures int) *Tracker {
	return &Tracker{
		maxConsecutiveFailures: make(map[string]int),
		defaultMaxFailures:     defaultMaxFailures,
		bus:                    bus,
		records:                make(map[string]*Record),
	}
}

// SetThreshold overrides max_consecutive_failures for one provider (from
// its ProviderSpec).
func (t *Tracker) SetThreshold(providerID string, max int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxConsecutiveFailures[providerID] = max
}

func (t *Tracker) thresholdFor(providerID string) int {
	if n, ok := t.maxConsecutiveFailures[providerID]; ok && n > 0 {
		return n
	}
	return t.defaultMaxFailures
}

// RecordOutcome is called both by the Health Worker's periodic probes and
// by the Dispatch Engine for real call outcomes (spec §4.4: "the Tracker
// also receives real-call outcomes... a flaky provider degrades before the
// next periodic probe"). Returns true if this call caused a state
// transition (degraded or recovered).
func (t *Tracker) RecordOutcome(providerID string, success bool, errMsg string, now time.Time) bool {
	t.mu.Lock()
	rec, ok := t.records[providerID]
	if !ok {
		rec = &Record{}
		t.records[providerID] = rec
	}

	if success {
		wasDegraded := rec.Degraded
		rec.ConsecutiveFailures = 0
		rec.LastOK = now
		rec.LastError = ""
		rec.Degraded = false
		t.mu.Unlock()

		if wasDegraded {
			t.bus.Publish(events.Event{Kind: events.ProviderRecovered, ProviderID: providerID})
			return true
		}
		return false
	}

	rec.ConsecutiveFailures++
	rec.LastError = errMsg
	threshold := t.thresholdFor(providerID)
	justDegraded := !rec.Degraded && rec.ConsecutiveFailures >= threshold
	if justDegraded {
		rec.Degraded = true
	}
	t.mu.Unlock()

	if justDegraded {
		t.bus.Publish(events.Event{Kind: events.ProviderDegraded, ProviderID: providerID, Message: errMsg})
		return true
	}
	return false
}

// Snapshot returns a copy of one provider's current health record.
func (t *Tracker) Snapshot(providerID string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[providerID]; ok {
		return *rec
	}
	return Record{}
}

// IsDegraded reports whether the provider is currently in the degraded
// health state.
func (t *Tracker) IsDegraded(providerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[providerID]; ok {
		return rec.Degraded
	}
	return false
}

// Forget drops the health record for a provider, e.g. after it is removed
// from the registry or returns to cold via Idle GC.
func (t *Tracker) Forget(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, providerID)
}

// ProbeTimeout is the fixed deadline spec §4.4 assigns to periodic probes.
const ProbeTimeout = 5 * time.Second

// TargetSet enumerates the ids of the providers the Worker should probe on
// each tick; ProbeTargets returns only the eligible ones.
type TargetSet interface {
	ProbeTargets() []string
}

// Worker runs Tracker probes on a fixed interval until its context is
// cancelled (spec §4.4's Health Worker).
type Worker struct {
	tracker  *Tracker
	prober   Prober
	targets  TargetSet
	interval time.Duration
}

// NewWorker builds a Health Worker.
func NewWorker(tracker *Tracker, prober Prober, targets TargetSet, interval time.Duration) *Worker {
	return &Worker{tracker: tracker, prober: prober, targets: targets, interval: interval}
}

// Run blocks, probing every provider in targets once per tick, until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	for _, providerID := range w.targets.ProbeTargets() {
		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		err := w.prober.Probe(probeCtx, providerID)
		cancel()

		if err != nil {
			w.tracker.RecordOutcome(providerID, false, err.Error(), time.Now())
		} else {
			w.tracker.RecordOutcome(providerID, true, "", time.Now())
		}
	}
}
