package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf)

	id, err := s.Send(context.Background(), ChannelID, plugin.SeverityInfo, "pong")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	id, err = s.Send(context.Background(), ChannelID, plugin.SeverityValidation, "bad args")
	require.NoError(t, err)
	assert.Equal(t, "2", id)

	_, err = s.Send(context.Background(), ChannelID, plugin.SeverityDenied, "no")
	require.NoError(t, err)

	assert.NoError(t, s.Delete(context.Background(), ChannelID, "1"))
	assert.Equal(t, "pong\n! bad args\nx no\n", buf.String())
}

func TestRun(t *testing.T) {
	var got []command.Message
	err := Run(context.Background(), strings.NewReader("//ping\n\n//core.help ping\n"), "", func(_ context.Context, msg command.Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, command.Message{Text: "//ping", UserID: UserID, ChannelID: ChannelID, MessageID: "1"}, got[0])
	assert.Equal(t, "//core.help ping", got[2].Text)
	assert.Equal(t, "3", got[2].MessageID)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Run(ctx, strings.NewReader("//ping\n"), "owner", func(context.Context, command.Message) { calls++ })
	require.NoError(t, err)
	assert.LessOrEqual(t, calls, 1)
}
