// Package observe provides OpenTelemetry metric instruments for the engine
// and a Prometheus bridge so they can be scraped from /metrics.
//
// Components hold a *Metrics that may be nil; every Record helper is a no-op
// on a nil receiver so tests can skip instrumentation entirely. Tests that
// assert on metrics should use [NewMetrics] with a ManualReader-backed
// provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/scrypster/riya"

// Metrics holds all metric instruments for the engine.
type Metrics struct {
	// InferenceDuration tracks reasoning service latency. Attributes: op, status.
	InferenceDuration metric.Float64Histogram

	// InferenceErrors counts failed reasoning calls. Attributes: op, kind.
	InferenceErrors metric.Int64Counter

	// MemoriesExtracted counts persisted memories.
	MemoriesExtracted metric.Int64Counter

	// ExtractionDropped counts candidates rejected by validation.
	ExtractionDropped metric.Int64Counter

	// GraphUpserts counts node and edge upserts. Attributes: kind, status.
	GraphUpserts metric.Int64Counter

	// RetrievalDuration tracks end-to-end retrieval latency.
	RetrievalDuration metric.Float64Histogram

	// TriggersCreated counts new engagement triggers. Attributes: type.
	TriggersCreated metric.Int64Counter

	// TriggersDispatched counts dispatch outcomes. Attributes: type, status.
	TriggersDispatched metric.Int64Counter

	// SchedulerRuns counts loop ticks. Attributes: loop, status.
	SchedulerRuns metric.Int64Counter

	// BusHandlerFailures counts subscriber errors and panics. Attributes: event.
	BusHandlerFailures metric.Int64Counter

	// QueueDepth tracks pending analysis jobs.
	QueueDepth metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("riya.inference.duration",
		metric.WithDescription("Latency of language reasoning calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("riya.inference.errors",
		metric.WithDescription("Failed language reasoning calls by kind."),
	); err != nil {
		return nil, err
	}
	if met.MemoriesExtracted, err = m.Int64Counter("riya.memories.extracted",
		metric.WithDescription("Memories persisted by the extractor."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDropped, err = m.Int64Counter("riya.memories.dropped",
		metric.WithDescription("Extraction candidates dropped by validation."),
	); err != nil {
		return nil, err
	}
	if met.GraphUpserts, err = m.Int64Counter("riya.graph.upserts",
		metric.WithDescription("Knowledge graph node and edge upserts."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("riya.retrieval.duration",
		metric.WithDescription("Latency of semantic retrieval."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TriggersCreated, err = m.Int64Counter("riya.triggers.created",
		metric.WithDescription("Engagement triggers created."),
	); err != nil {
		return nil, err
	}
	if met.TriggersDispatched, err = m.Int64Counter("riya.triggers.dispatched",
		metric.WithDescription("Engagement trigger dispatch outcomes."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerRuns, err = m.Int64Counter("riya.scheduler.runs",
		metric.WithDescription("Scheduler loop runs."),
	); err != nil {
		return nil, err
	}
	if met.BusHandlerFailures, err = m.Int64Counter("riya.bus.handler_failures",
		metric.WithDescription("Event bus subscriber errors and panics."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("riya.engine.queue_depth",
		metric.WithDescription("Analysis jobs waiting for a worker."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics built from the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordInference records one reasoning call.
func (m *Metrics) RecordInference(ctx context.Context, op string, d time.Duration, errKind string) {
	if m == nil {
		return
	}
	status := "ok"
	if errKind != "" {
		status = "error"
		m.InferenceErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("kind", errKind),
		))
	}
	m.InferenceDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}

// RecordExtraction records persisted and dropped memory counts.
func (m *Metrics) RecordExtraction(ctx context.Context, persisted, dropped int) {
	if m == nil {
		return
	}
	if persisted > 0 {
		m.MemoriesExtracted.Add(ctx, int64(persisted))
	}
	if dropped > 0 {
		m.ExtractionDropped.Add(ctx, int64(dropped))
	}
}

// RecordGraphUpsert records a node or edge upsert.
func (m *Metrics) RecordGraphUpsert(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	m.GraphUpserts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", statusOf(err)),
	))
}

// RecordRetrieval records retrieval latency.
func (m *Metrics) RecordRetrieval(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Record(ctx, d.Seconds())
}

// RecordTriggerCreated records a new trigger.
func (m *Metrics) RecordTriggerCreated(ctx context.Context, triggerType string) {
	if m == nil {
		return
	}
	m.TriggersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", triggerType)))
}

// RecordTriggerDispatched records a dispatch outcome (sent, skipped, error).
func (m *Metrics) RecordTriggerDispatched(ctx context.Context, triggerType, status string) {
	if m == nil {
		return
	}
	m.TriggersDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", triggerType),
		attribute.String("status", status),
	))
}

// RecordSchedulerRun records a loop tick.
func (m *Metrics) RecordSchedulerRun(ctx context.Context, loop, status string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("loop", loop),
		attribute.String("status", status),
	))
}

// RecordBusFailure records a failed or panicking subscriber.
func (m *Metrics) RecordBusFailure(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.BusHandlerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// AddQueueDepth adjusts the analysis queue gauge.
func (m *Metrics) AddQueueDepth(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(ctx, delta)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
