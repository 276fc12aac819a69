// Package batch implements the Batch Executor (spec §4.8): parallel
// fan-out of N invocations sharing a deadline, with order-preserving
// results, single-flight-inherited cold starts, and optional fail-fast
// cancellation.
//
// Grounded on the golang.org/x/sync/errgroup bounded-fan-out idiom
// confirmed in other_examples/f870858c_mozilla-ai-mcpd__internal-daemon-daemon.go.go
// and present as a direct dependency in the teacher's go.mod
// (golang.org/x/sync v0.15.0) even though the teacher's own call sites
// weren't retrieved into this pack — errgroup.SetLimit bounds
// max_parallel the same way that file bounds its own daemon fan-out.
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/hangarerr"
)

// Call is one entry in a batch_call request (spec §4.8).
type Call struct {
	Target       string
	Tool         string
	Args         map[string]any
	CallDeadline time.Time // zero means "inherit the batch deadline"
}

// Options configures batch execution (spec §4.8).
type Options struct {
	MaxParallel int
	FailFast    bool
}

// Result is one call's outcome; exactly one of Value or ErrorKind is set.
type Result struct {
	OK        bool
	Value     *mcp.CallToolResult
	ErrorKind string
	Message   string
}

// Dispatcher is the subset of *dispatch.Engine the Batch Executor needs —
// kept as an interface to avoid a dependency on dispatch's own
// registry/health-tracker wiring.
type Dispatcher interface {
	Dispatch(ctx context.Context, targetID, tool string, args map[string]any, deadline time.Time, correlationID string) (*mcp.CallToolResult, error)
}

// Execute runs calls concurrently (bounded by opts.MaxParallel), all
// sharing batchDeadline, and returns results in input order (spec §5
// "Batch results are returned in input order regardless of completion
// order").
func Execute(ctx context.Context, d Dispatcher, bus *events.Bus, calls []Call, batchDeadline time.Time, opts Options, correlationID string) []Result {
	start := time.Now()
	results := make([]Result, len(calls))

	maxParallel := opts.MaxParallel
	if maxParallel <= 0 || maxParallel > len(calls) {
		maxParallel = len(calls)
	}
	if maxParallel == 0 {
		return results
	}

	batchCtx := ctx
	if !batchDeadline.IsZero() {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithDeadline(ctx, batchDeadline)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(maxParallel)

	var cancelSiblings context.CancelFunc
	if opts.FailFast {
		gctx, cancelSiblings = context.WithCancel(gctx)
		defer cancelSiblings()
	}

	var successCount, cancelCount int64
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			deadline := call.CallDeadline
			if deadline.IsZero() {
				deadline = batchDeadline
			}

			result, err := d.Dispatch(gctx, call.Target, call.Tool, call.Args, deadline, correlationID)
			if err != nil {
				if gctx.Err() != nil {
					results[i] = Result{OK: false, ErrorKind: hangarerr.Cancelled.String(), Message: "batch cancelled"}
					atomic.AddInt64(&cancelCount, 1)
				} else {
					results[i] = Result{OK: false, ErrorKind: hangarerr.KindOf(err).String(), Message: err.Error()}
				}
				if opts.FailFast && cancelSiblings != nil {
					cancelSiblings()
				}
				return nil // per-call failure never fails the group (spec: default no-fail-fast)
			}
			results[i] = Result{OK: true, Value: result}
			atomic.AddInt64(&successCount, 1)
			return nil
		})
	}
	_ = g.Wait()

	bus.Publish(events.Event{
		Kind:          events.BatchCompleted,
		CorrelationID: correlationID,
		DurationMs:    float64(time.Since(start).Milliseconds()),
		Attrs: map[string]any{
			"size":      len(calls),
			"succeeded": atomic.LoadInt64(&successCount),
			"cancelled": atomic.LoadInt64(&cancelCount),
		},
	})
	return results
}
