package core

import (
	"context"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/internal/tracing"
	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/hooks"
	"github.com/harun/openbot/pkg/plugin"
)

// LongReply is the length in characters from which a reply is deleted after
// chat.delete_messages_delay.timeout_long instead of timeout_short.
const LongReply = 250

const deleteTimeout = 10 * time.Second

// allow is the dispatch filter: while sleeping, and outside the bound
// channels when restriction is on, only built-in commands run.
func (c *Core) allow(msg command.Message, cmd *command.Command) bool {
	if cmd != nil && cmd.PluginID == PluginID {
		return true
	}
	if c.Sleeping() {
		return false
	}
	if c.store.GetBool(config.KeyRestrictEnabled, false) {
		return slices.Contains(c.store.GetStringSlice(config.KeyRestrictChannels, nil), msg.ChannelID)
	}
	return true
}

// afterDispatch schedules deletion of the command message and fires
// command.dispatched.
func (c *Core) afterDispatch(ctx context.Context, msg command.Message, res command.Result) {
	if msg.MessageID != "" && c.store.GetBool(config.KeyDeleteCommandsEnabled, false) {
		c.deleteLater(msg.ChannelID, msg.MessageID, c.store.GetDuration(config.KeyDeleteCommandsDelay, 5*time.Second))
	}

	data := map[string]any{
		"name":       res.Name,
		"outcome":    res.Outcome.String(),
		"user_id":    msg.UserID,
		"channel_id": msg.ChannelID,
	}
	if res.Command != nil {
		data["command"] = res.Command.QualifiedName
		data["plugin"] = res.Command.PluginID
	}
	c.trigger(ctx, hooks.EventDispatched, data)
}

// Sleep ignores non-built-in commands and mutes their output for d. A
// non-positive d wakes the bot.
func (c *Core) Sleep(d time.Duration) {
	if d <= 0 {
		c.sleepUntil.Store(0)
		c.logger.Info().Msg("Woke up")
		return
	}
	c.sleepUntil.Store(time.Now().Add(d).UnixNano())
	c.logger.Info().Dur("for", d).Msg("Sleeping")
}

// Sleeping reports whether a sleep is in effect.
func (c *Core) Sleeping() bool {
	until := c.sleepUntil.Load()
	return until != 0 && time.Now().UnixNano() < until
}

// Bind restricts commands to channelID. With appendChannel the channel is
// added to the bound channels, otherwise it replaces them. It reports false
// when the channel was already bound.
func (c *Core) Bind(channelID string, appendChannel bool) (bool, error) {
	current := c.store.GetStringSlice(config.KeyRestrictChannels, nil)
	enabled := c.store.GetBool(config.KeyRestrictEnabled, false)
	if enabled && slices.Contains(current, channelID) && (appendChannel || len(current) == 1) {
		return false, nil
	}

	next := []any{channelID}
	if appendChannel {
		next = next[:0]
		for _, ch := range current {
			if ch != channelID {
				next = append(next, ch)
			}
		}
		next = append(next, channelID)
	}

	err := c.store.Update(func(t configtree.Tree) error {
		t.Set(config.KeyRestrictEnabled, true)
		t.Set(config.KeyRestrictChannels, next)
		return nil
	})
	if err != nil {
		c.configWriteFailed(err)
		return false, err
	}
	return true, nil
}

func (c *Core) deleteLater(channelID, messageID string, after time.Duration) {
	if c.sink.inner == nil || messageID == "" {
		return
	}

	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.closed {
		return
	}

	id := c.nextTimer
	c.nextTimer++
	c.timers[id] = time.AfterFunc(after, func() {
		c.timersMu.Lock()
		delete(c.timers, id)
		c.timersMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := c.sink.inner.Delete(ctx, channelID, messageID); err != nil {
			c.logger.Warn().
				Err(err).
				Str("channel_id", channelID).
				Str("message_id", messageID).
				Msg("Failed to delete message")
		}
	})
}

// pendingDeletions is the number of scheduled deletions.
func (c *Core) pendingDeletions() int {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	return len(c.timers)
}

// chatSink wraps the platform sink: output of non-built-in commands is
// dropped while sleeping, and sent replies are scheduled for deletion.
type chatSink struct {
	core  *Core
	inner plugin.MessageSink
}

func (s *chatSink) Send(ctx context.Context, channelID string, severity plugin.Severity, text string) (string, error) {
	if s.inner == nil {
		return "", nil
	}
	if s.core.Sleeping() && tracing.GetPluginID(ctx) != PluginID {
		s.core.logger.Debug().Str("channel_id", channelID).Msg("Sleeping, reply dropped")
		return "", nil
	}

	// On a partial failure id still lists the parts that went out; they are
	// scheduled like a complete reply.
	id, err := s.inner.Send(ctx, channelID, severity, text)
	if id == "" {
		return id, err
	}

	store := s.core.store
	if store.GetBool(config.KeyDeleteRepliesEnabled, false) {
		delay := store.GetDuration(config.KeyDeleteRepliesShort, 30*time.Second)
		if utf8.RuneCountInString(text) >= LongReply {
			delay = store.GetDuration(config.KeyDeleteRepliesLong, 60*time.Second)
		}
		s.core.deleteLater(channelID, id, delay)
	}
	return id, err
}

func (s *chatSink) Delete(ctx context.Context, channelID, messageID string) error {
	if s.inner == nil {
		return nil
	}
	return s.inner.Delete(ctx, channelID, messageID)
}
