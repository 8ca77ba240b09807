package observability

import (
    "context"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    "go.opentelemetry.io/otel/trace"

    "ragingest/internal/ragerrors"
)

type ctxKey string

const (
    stageKey ctxKey = "stage"
    pageKey  ctxKey = "page"
)

// WithStage attaches the pipeline stage currently running to ctx so every
// logger LoggerWithTrace builds from it is tagged with it.
func WithStage(ctx context.Context, stage string) context.Context {
    return context.WithValue(ctx, stageKey, stage)
}

// WithPage attaches the page URL currently being processed to ctx.
func WithPage(ctx context.Context, page string) context.Context {
    return context.WithValue(ctx, pageKey, page)
}

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/span_id
// from the context (if a span is active) and with the stage/page set via
// WithStage/WithPage, if any.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
    l := log.Logger
    if ctx == nil {
        return &l
    }
    if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
        l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
        if sc.HasSpanID() {
            l = l.With().Str("span_id", sc.SpanID().String()).Logger()
        }
        if sc.IsSampled() {
            l = l.With().Bool("trace_sampled", true).Logger()
        }
    }
    if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
        l = l.With().Str("stage", stage).Logger()
    }
    if page, ok := ctx.Value(pageKey).(string); ok && page != "" {
        l = l.With().Str("page", page).Logger()
    }
    return &l
}

// WithErrorKind attaches a ragerrors.Kind to a zerolog event so a failed
// stage's kind (retryable/validation/fatal/partial) is queryable in logs
// the same way it is enumerated in the run Report.
func WithErrorKind(ev *zerolog.Event, kind ragerrors.Kind) *zerolog.Event {
    return ev.Str("kind", string(kind))
}

