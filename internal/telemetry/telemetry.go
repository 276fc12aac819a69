// Package telemetry sets up the OpenTelemetry SDK and bridges the Event Bus
// (internal/events) onto OTel counters and histograms exposed through a
// Prometheus exporter, grounded on the teacher's telemetry.Init /
// RecordGatewayStart call sites in cmd/docker-mcp/internal/gateway/run.go
// and on the MeterProvider + Prometheus-exporter wiring shown in full in
// _examples/MrWong99-glyphoxa/internal/observe/provider.go (the teacher's
// own internal/telemetry package source wasn't retrieved into the pack).
package telemetry

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mapyr/mcp-hangar/internal/events"
)

// Instruments holds every OTel instrument the Event Bus bridge records into.
type Instruments struct {
	ToolInvocations metric.Int64Counter
	ToolFailures    metric.Int64Counter
	ToolDuration    metric.Float64Histogram
	ProviderStarts  metric.Int64Counter
	CircuitTrips    metric.Int64Counter
	BatchSize       metric.Int64Histogram
}

// Init wires the global MeterProvider to a Prometheus exporter (spec §6
// "/metrics") and a TracerProvider with no exporter configured (spans are
// recorded for context propagation but not shipped anywhere — wire encoding
// of traces, like of metrics, is out of scope per spec.md §1). Returns a
// shutdown func for a defer in main, plus the built Instruments.
func Init(serviceName string) (shutdown func(context.Context) error, instruments *Instruments, err error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	meter := mp.Meter(serviceName)
	instruments, err = newInstruments(meter)
	if err != nil {
		return nil, nil, err
	}

	shutdown = func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return shutdown, instruments, nil
}

func newInstruments(meter metric.Meter) (*Instruments, error) {
	toolInvocations, err := meter.Int64Counter("hangar.tool.invocations",
		metric.WithDescription("Count of successful tool invocations"))
	if err != nil {
		return nil, err
	}
	toolFailures, err := meter.Int64Counter("hangar.tool.failures",
		metric.WithDescription("Count of failed tool invocations, by error_kind"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("hangar.tool.duration_ms",
		metric.WithDescription("Tool invocation duration in milliseconds"))
	if err != nil {
		return nil, err
	}
	providerStarts, err := meter.Int64Counter("hangar.provider.starts",
		metric.WithDescription("Count of provider cold starts"))
	if err != nil {
		return nil, err
	}
	circuitTrips, err := meter.Int64Counter("hangar.circuit.trips",
		metric.WithDescription("Count of circuit breaker open transitions"))
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("hangar.batch.size",
		metric.WithDescription("Size of executed batch_call requests"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		ToolInvocations: toolInvocations,
		ToolFailures:    toolFailures,
		ToolDuration:    toolDuration,
		ProviderStarts:  providerStarts,
		CircuitTrips:    circuitTrips,
		BatchSize:       batchSize,
	}, nil
}

// Bridge subscribes to the Event Bus and records every relevant domain
// event into the matching OTel instrument, the way DESIGN.md's
// internal/events entry describes ("the Event Bus is the thing that now
// feeds those same OTel instruments").
type Bridge struct {
	bus         *events.Bus
	instruments *Instruments
}

// NewBridge builds a Bridge. Call Run in its own goroutine.
func NewBridge(bus *events.Bus, instruments *Instruments) *Bridge {
	return &Bridge{bus: bus, instruments: instruments}
}

// Run drains the subscription until ctx is cancelled or the bus stops
// delivering (channel closed).
func (b *Bridge) Run(ctx context.Context) {
	sub := b.bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.record(ctx, ev)
		}
	}
}

func (b *Bridge) record(ctx context.Context, ev events.Event) {
	attrs := metric.WithAttributes()
	switch ev.Kind {
	case events.ToolInvoked:
		b.instruments.ToolInvocations.Add(ctx, 1, attrs)
		b.instruments.ToolDuration.Record(ctx, ev.DurationMs, attrs)
	case events.ToolFailed:
		b.instruments.ToolFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("error_kind", ev.ErrorKind)))
		b.instruments.ToolDuration.Record(ctx, ev.DurationMs, attrs)
	case events.ProviderStarting:
		b.instruments.ProviderStarts.Add(ctx, 1, attrs)
	case events.CircuitOpened:
		b.instruments.CircuitTrips.Add(ctx, 1, attrs)
	case events.BatchCompleted:
		if size, ok := ev.Attrs["size"].(int); ok {
			b.instruments.BatchSize.Record(ctx, int64(size), attrs)
		}
	}
}

// MetricsHandler returns the /metrics HTTP handler (spec §6), backed by
// the default Prometheus registry the exporter above feeds into via the
// promhttp adapter.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ForceFlushLoop periodically force-flushes the meter provider, grounded
// verbatim on the teacher's periodicMetricExport (Gateway.periodicMetricExport
// in run.go): a manual-reader Prometheus exporter otherwise only exports on
// shutdown, which starves long-running processes of fresh scrapes.
func ForceFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	type flusher interface{ ForceFlush(context.Context) error }

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if mp, ok := otel.GetMeterProvider().(flusher); ok {
				flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				_ = mp.ForceFlush(flushCtx)
				cancel()
			}
		}
	}
}
