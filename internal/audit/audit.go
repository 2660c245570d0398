// Package audit records dispatched commands and administrative actions: a
// JSON-lines audit file with span events, and an optional SQLite history of
// dispatches.
package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/openbot/pkg/command"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event types.
const (
	TypeDispatch  = "dispatch"
	TypeConfig    = "config"
	TypeSecurity  = "security"
	TypeLifecycle = "lifecycle"
)

// Event is one structured audit entry.
type Event struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"` // user ID
	Action    string         `json:"action"`          // e.g. "//core.reload", "perm.grant"
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Logger writes audit events.
type Logger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Open returns a Logger appending to the file at path.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l := New(file)
	l.file = file
	return l, nil
}

// Record writes event and, when ctx carries a recording span, adds it as a
// span event.
func (a *Logger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Observe implements command.Observer.
func (a *Logger) Observe(ctx context.Context, msg command.Message, res command.Result) {
	if res.Outcome == command.Ignored {
		return
	}

	meta := map[string]any{
		"channel_id":  msg.ChannelID,
		"duration_ms": res.Duration.Milliseconds(),
	}
	action := res.Name
	if res.Command != nil {
		action = res.Command.QualifiedName
		meta["plugin"] = res.Command.PluginID
	}
	if res.InvocationID != "" {
		meta["invocation_id"] = res.InvocationID
	}
	if len(res.Args) > 0 {
		meta["args"] = len(res.Args)
	}
	if res.Err != nil {
		meta["error"] = res.Err.Error()
	}

	a.Record(ctx, Event{
		Type:     TypeDispatch,
		Actor:    msg.UserID,
		Action:   action,
		Status:   res.Outcome.String(),
		Metadata: meta,
	})
}

// RecordConfig records a configuration change made by actor.
func (a *Logger) RecordConfig(ctx context.Context, action, actor string, metadata map[string]any) {
	a.Record(ctx, Event{
		Type:     TypeConfig,
		Actor:    actor,
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

// RecordSecurity records a permission change or check.
func (a *Logger) RecordSecurity(ctx context.Context, action, actor, status string, metadata map[string]any) {
	a.Record(ctx, Event{
		Type:     TypeSecurity,
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

// Close closes the underlying file, if any.
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
