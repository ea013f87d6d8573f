// Package tracing provides span tracing for pool operations.
//
// Pools accept any Tracer. NoOpTracer is the default, Recorder keeps spans in
// memory for tests and debugging, and OTelTracer forwards spans to the
// OpenTelemetry global (or a supplied) tracer provider.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span names used by the pool.
const (
	SpanAcquire = "pool.acquire"
	SpanCreate  = "pool.create"
)

// Attribute keys used by the pool.
const (
	AttrPoolName = "pool.name"
	AttrConnID   = "conn.id"
	AttrQueued   = "pool.queued"
)

// Tracer starts spans.
type Tracer interface {
	// StartSpan starts a new span with the given name.
	// Returns a context containing the span and a function to end the span.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder ends a span. Pass nil for success or the error that failed the operation.
type SpanEnder func(err error)

// SpanOption configures span behavior.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]any
}

func newSpanConfig(opts []SpanOption) *spanConfig {
	cfg := &spanConfig{
		kind:       SpanKindInternal,
		attributes: make(map[string]any),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// SpanKind identifies the type of span.
type SpanKind int

// SpanKindInternal is the default; client spans wrap calls to a backend.
const (
	SpanKindInternal SpanKind = iota
	SpanKindClient
)

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithAttribute adds one span attribute.
func WithAttribute(key string, value any) SpanOption {
	return func(c *spanConfig) {
		c.attributes[key] = value
	}
}

// NoOpTracer is a tracer that does nothing.
type NoOpTracer struct{}

// StartSpan returns the context unchanged and a no-op end function.
func (NoOpTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(err error) {}
}

// OrNoOp returns t, or NoOpTracer when t is nil.
func OrNoOp(t Tracer) Tracer {
	if t == nil {
		return NoOpTracer{}
	}
	return t
}

// RecordedSpan represents a completed span.
type RecordedSpan struct {
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Kind       SpanKind
	Attributes map[string]any
	Error      error
	TraceID    string
	SpanID     string
	ParentID   string
}

// Recorder is a tracer that records finished spans in memory.
type Recorder struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// StartSpan starts a new span.
func (r *Recorder) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)

	span := &RecordedSpan{
		Name:       name,
		StartTime:  time.Now(),
		Kind:       cfg.kind,
		Attributes: cfg.attributes,
		TraceID:    uuid.NewString(),
		SpanID:     uuid.NewString(),
	}

	if parent := spanFromContext(ctx); parent != nil {
		span.ParentID = parent.SpanID
		span.TraceID = parent.TraceID
	}

	ctx = context.WithValue(ctx, spanContextKey{}, span)

	return ctx, func(err error) {
		span.EndTime = time.Now()
		span.Duration = span.EndTime.Sub(span.StartTime)
		span.Error = err

		r.mu.Lock()
		r.spans = append(r.spans, *span)
		r.mu.Unlock()
	}
}

// Spans returns all recorded spans.
func (r *Recorder) Spans() []RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]RecordedSpan, len(r.spans))
	copy(result, r.spans)
	return result
}

// Named returns recorded spans with the given name.
func (r *Recorder) Named(name string) []RecordedSpan {
	var out []RecordedSpan
	for _, s := range r.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears all recorded spans.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = r.spans[:0]
}

type spanContextKey struct{}

func spanFromContext(ctx context.Context) *RecordedSpan {
	if span, ok := ctx.Value(spanContextKey{}).(*RecordedSpan); ok {
		return span
	}
	return nil
}
