package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.InvocationID != "" {
		lc = lc.Str("invocation_id", tc.InvocationID)
	}
	if tc.UserID != "" {
		lc = lc.Str("user_id", tc.UserID)
	}
	if tc.ChannelID != "" {
		lc = lc.Str("channel_id", tc.ChannelID)
	}
	if tc.PluginID != "" {
		lc = lc.Str("plugin_id", tc.PluginID)
	}
	return lc.Logger()
}

// MergeContext copies tracing information from source into target without
// overwriting what target already has.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)
	have := FromContext(target)

	if have.TraceID != "" {
		tc.TraceID = ""
	}
	if have.InvocationID != "" {
		tc.InvocationID = ""
	}
	if have.UserID != "" {
		tc.UserID = ""
	}
	if have.ChannelID != "" {
		tc.ChannelID = ""
	}
	if have.PluginID != "" {
		tc.PluginID = ""
	}
	return NewContext(target, tc)
}

// Detach returns a background context carrying the same tracing information,
// for work that must outlive the request, such as delayed message deletion.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
