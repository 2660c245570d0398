package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewInvocationID(), NewInvocationID())
	assert.NotEmpty(t, NewInvocationID())
}

func TestContextRoundTrip(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{
		TraceID:      "t1",
		InvocationID: "i1",
		UserID:       "u1",
		ChannelID:    "c1",
		PluginID:     "p1",
	})

	assert.Equal(t, &TraceContext{
		TraceID:      "t1",
		InvocationID: "i1",
		UserID:       "u1",
		ChannelID:    "c1",
		PluginID:     "p1",
	}, FromContext(ctx))

	assert.Equal(t, &TraceContext{}, FromContext(context.Background()))
}

func TestNewMessageContext(t *testing.T) {
	ctx := NewMessageContext(context.Background(), "42", "-100")

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Equal(t, "42", GetUserID(ctx))
	assert.Equal(t, "-100", GetChannelID(ctx))

	kept := NewMessageContext(WithTraceID(context.Background(), "fixed"), "1", "2")
	assert.Equal(t, "fixed", GetTraceID(kept))
}

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithInvocationID(WithTraceID(context.Background(), "t1"), "i1")
	propagated := PropagateToLogger(ctx, logger)
	propagated.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "t1", entry["trace_id"])
	assert.Equal(t, "i1", entry["invocation_id"])
	assert.NotContains(t, entry, "user_id")
}

func TestMergeContextNoOverwrite(t *testing.T) {
	target := WithTraceID(context.Background(), "mine")
	source := WithUserID(WithTraceID(context.Background(), "theirs"), "u")

	merged := MergeContext(target, source)
	assert.Equal(t, "mine", GetTraceID(merged))
	assert.Equal(t, "u", GetUserID(merged))
}

func TestDetachSurvivesCancel(t *testing.T) {
	parent, cancel := context.WithCancel(WithTraceID(context.Background(), "t1"))
	cancel()

	detached := Detach(parent)
	assert.NoError(t, detached.Err())
	assert.Equal(t, "t1", GetTraceID(detached))
}

func TestDispatchSpan(t *testing.T) {
	tests := []struct {
		name    string
		ratio   float64
		sampled bool
	}{
		{"all", 1, true},
		{"none", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := Setup(Config{ServiceName: "openbot-test", Version: "0.0.0", SampleRatio: tt.ratio})
			require.NoError(t, err)
			defer func() { assert.NoError(t, tp.Shutdown(context.Background())) }()

			ctx, span := StartDispatchSpan(context.Background(), "help", "-100")
			assert.NotEmpty(t, GetTraceID(ctx))
			assert.True(t, span.SpanContext().IsValid())
			assert.Equal(t, tt.sampled, span.SpanContext().IsSampled())
			EndDispatchSpan(span, "internal_error", errors.New("boom"))
		})
	}
}
