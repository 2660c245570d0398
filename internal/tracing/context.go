package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// InvocationIDKey is the context key for the ID of one dispatched command
	InvocationIDKey ContextKey = "invocation_id"
	// UserIDKey is the context key for the calling user
	UserIDKey ContextKey = "user_id"
	// ChannelIDKey is the context key for the channel a message came from
	ChannelIDKey ContextKey = "channel_id"
	// PluginIDKey is the context key for the plugin handling a command
	PluginIDKey ContextKey = "plugin_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	InvocationID string
	UserID       string
	ChannelID    string
	PluginID     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewInvocationID generates a new invocation ID
func NewInvocationID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithInvocationID adds an invocation ID to the context
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, InvocationIDKey, id)
}

// WithUserID adds the calling user to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithChannelID adds the source channel to the context
func WithChannelID(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, ChannelIDKey, channelID)
}

// WithPluginID adds the handling plugin to the context
func WithPluginID(ctx context.Context, pluginID string) context.Context {
	return context.WithValue(ctx, PluginIDKey, pluginID)
}

func value(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetInvocationID retrieves the invocation ID from the context
func GetInvocationID(ctx context.Context) string { return value(ctx, InvocationIDKey) }

// GetUserID retrieves the calling user from the context
func GetUserID(ctx context.Context) string { return value(ctx, UserIDKey) }

// GetChannelID retrieves the source channel from the context
func GetChannelID(ctx context.Context) string { return value(ctx, ChannelIDKey) }

// GetPluginID retrieves the handling plugin from the context
func GetPluginID(ctx context.Context) string { return value(ctx, PluginIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		InvocationID: GetInvocationID(ctx),
		UserID:       GetUserID(ctx),
		ChannelID:    GetChannelID(ctx),
		PluginID:     GetPluginID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.InvocationID != "" {
		ctx = WithInvocationID(ctx, tc.InvocationID)
	}
	if tc.UserID != "" {
		ctx = WithUserID(ctx, tc.UserID)
	}
	if tc.ChannelID != "" {
		ctx = WithChannelID(ctx, tc.ChannelID)
	}
	if tc.PluginID != "" {
		ctx = WithPluginID(ctx, tc.PluginID)
	}
	return ctx
}

// NewMessageContext starts the tracing context for one inbound message: a
// fresh trace ID plus the caller and channel.
func NewMessageContext(ctx context.Context, userID, channelID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return NewContext(ctx, &TraceContext{UserID: userID, ChannelID: channelID})
}
