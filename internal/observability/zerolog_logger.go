package observability

import (
	"context"

	"github.com/rs/zerolog"

	"ragingest/internal/ragerrors"
)

// ZerologLogger adapts LoggerWithTrace-enriched zerolog output to the
// Logger interface.
type ZerologLogger struct {
	ctx context.Context
}

// NewZerologLogger returns a Logger that enriches every line with the
// trace/span ids found in ctx, if any.
func NewZerologLogger(ctx context.Context) *ZerologLogger {
	return &ZerologLogger{ctx: ctx}
}

// event writes one line. A "kind" field carrying a ragerrors.Kind is routed
// through WithErrorKind instead of the generic Interface encoder, so a
// failed stage's kind lands in logs exactly as it's enumerated in the run
// Report, queryable the same way.
func (l *ZerologLogger) event(level zerolog.Level, msg string, fields map[string]any) {
	logger := LoggerWithTrace(l.ctx)
	ev := logger.WithLevel(level)
	for k, v := range fields {
		if k == "kind" {
			if kind, ok := v.(ragerrors.Kind); ok {
				ev = WithErrorKind(ev, kind)
				continue
			}
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Info(msg string, fields map[string]any)  { l.event(zerolog.InfoLevel, msg, fields) }
func (l *ZerologLogger) Error(msg string, fields map[string]any) { l.event(zerolog.ErrorLevel, msg, fields) }
func (l *ZerologLogger) Debug(msg string, fields map[string]any) { l.event(zerolog.DebugLevel, msg, fields) }
