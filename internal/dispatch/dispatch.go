// Package dispatch implements the Dispatch Engine (spec §4.7): the single
// entry point dispatch(target_id, tool, args, deadline, correlation_id)
// that resolves a provider or group target, enforces the global rate
// limit and concurrency caps, applies the circuit breaker for group
// targets, and records every outcome on the Event Bus.
//
// Rate limiting uses golang.org/x/time/rate, the token-bucket limiter from
// the same x/ umbrella as golang.org/x/sync/errgroup — already a direct
// teacher dependency for concurrency primitives — since no rate limiter
// appears directly in the retrieval pack; named here as the one new
// dependency rather than silently added (see DESIGN.md).
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mapyr/mcp-hangar/internal/breaker"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/registry"
)

// Engine is the Dispatch Engine. One per gateway process.
type Engine struct {
	registry  *registry.Registry
	tracker   *health.Tracker
	bus       *events.Bus
	limiter   *rate.Limiter
	globalSem *semaphore.Weighted
}

// New builds an Engine. rps<=0 disables rate limiting; globalConcurrency<=0
// disables the optional global in-flight cap (spec §4.7 "Concurrency
// bound").
func New(reg *registry.Registry, tracker *health.Tracker, bus *events.Bus, rps int, burst int, globalConcurrency int64) *Engine {
	e := &Engine{registry: reg, tracker: tracker, bus: bus}
	if rps > 0 {
		if burst < rps {
			burst = rps
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if globalConcurrency > 0 {
		e.globalSem = semaphore.NewWeighted(globalConcurrency)
	}
	return e
}

// NewCorrelationID returns a fresh correlation id for a top-level call
// (batch or single dispatch) that didn't supply its own.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Dispatch is spec §4.7's single entry point.
func (e *Engine) Dispatch(ctx context.Context, targetID, tool string, args map[string]any, deadline time.Time, correlationID string) (result *mcp.CallToolResult, err error) {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	start := time.Now()
	defer func() { e.recordOutcome(targetID, tool, correlationID, time.Since(start), err) }()

	if !deadline.IsZero() {
		if !deadline.After(time.Now()) {
			return nil, hangarerr.New(hangarerr.Timeout, "deadline already elapsed")
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	provider, grp, err := e.registry.Resolve(targetID)
	if err != nil {
		return nil, err
	}

	if e.limiter != nil && !e.limiter.Allow() {
		return nil, hangarerr.New(hangarerr.RateLimited, "rate limit exceeded")
	}

	if e.globalSem != nil {
		if err := e.globalSem.Acquire(ctx, 1); err != nil {
			return nil, hangarerr.Wrap(hangarerr.Cancelled, "waiting for global concurrency slot", err)
		}
		defer e.globalSem.Release(1)
	}

	if grp != nil {
		result, err = e.dispatchGroup(ctx, grp, tool, args, deadline, correlationID)
	} else {
		result, err = e.dispatchProvider(ctx, provider.ProviderID, provider, tool, args)
	}
	return result, err
}

func (e *Engine) dispatchProvider(ctx context.Context, providerID string, provider interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error)
}, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	result, err := provider.Invoke(ctx, tool, args)

	success := err == nil
	if err != nil && hangarerr.CountsAsFailure(hangarerr.KindOf(err)) {
		e.tracker.RecordOutcome(providerID, false, err.Error(), time.Now())
	} else if success {
		e.tracker.RecordOutcome(providerID, true, "", time.Now())
	}
	return result, err
}

func (e *Engine) dispatchGroup(ctx context.Context, grp groupHandle, tool string, args map[string]any, deadline time.Time, correlationID string) (*mcp.CallToolResult, error) {
	// Only min_healthy is checked here; an open breaker is left to
	// AllowDispatch so it can admit the half-open probe once its reset
	// timeout has passed.
	if grp.HealthyCount() < grp.MinHealthyValue() {
		return nil, hangarerr.New(hangarerr.GroupUnavailable, "group is below min_healthy")
	}

	now := time.Now()
	allowed, admittedAs := grp.AllowDispatch(now)
	if !allowed {
		return nil, hangarerr.New(hangarerr.CircuitOpen, "group circuit breaker is open")
	}

	memberID, err := grp.SelectMember()
	if err != nil {
		grp.RecordOutcome(admittedAs, false, now)
		return nil, err
	}

	provider, _, resolveErr := e.registry.Resolve(memberID)
	if resolveErr != nil || provider == nil {
		grp.RecordOutcome(admittedAs, false, now)
		return nil, hangarerr.New(hangarerr.GroupUnavailable, "selected member "+memberID+" is no longer registered")
	}

	result, err := e.dispatchProvider(ctx, memberID, provider, tool, args)
	// A tool_error is an application-level outcome (spec §7), not a provider
	// failure, and must not trip the group's circuit breaker — same policy
	// dispatchProvider already applies to the Health Tracker.
	breakerSuccess := err == nil || !hangarerr.CountsAsFailure(hangarerr.KindOf(err))
	grp.RecordOutcome(admittedAs, breakerSuccess, time.Now())
	return result, err
}

// groupHandle is the subset of *group.Group Dispatch needs.
type groupHandle interface {
	HealthyCount() int
	MinHealthyValue() int
	AllowDispatch(now time.Time) (bool, breaker.State)
	SelectMember() (string, error)
	RecordOutcome(admittedAs breaker.State, success bool, now time.Time)
}

func (e *Engine) recordOutcome(targetID, tool, correlationID string, dur time.Duration, err error) {
	if err == nil {
		e.bus.Publish(events.Event{
			Kind: events.ToolInvoked, ProviderID: targetID, Tool: tool,
			DurationMs: float64(dur.Milliseconds()), CorrelationID: correlationID,
		})
		return
	}
	e.bus.Publish(events.Event{
		Kind: events.ToolFailed, ProviderID: targetID, Tool: tool, ErrorKind: hangarerr.KindOf(err).String(),
		Message: err.Error(), DurationMs: float64(dur.Milliseconds()), CorrelationID: correlationID,
	})
}
