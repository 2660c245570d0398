package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/openbot/pkg/plugin"
)

// MaxMessageLength is the Telegram limit on one text message, in UTF-16 code units.
const MaxMessageLength = 4096

// Sink implements plugin.MessageSink over a Bot. Text longer than
// MaxMessageLength is sent as several messages; the returned message ID then
// lists all of them, comma separated, so Delete removes every part.
type Sink struct {
	bot *Bot
}

// Send sends text to the chat channelID.
func (s *Sink) Send(_ context.Context, channelID string, severity plugin.Severity, text string) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", channelID, err)
	}

	var ids []string
	for _, part := range SplitMessage(text, MaxMessageLength) {
		sent, err := s.bot.api.Send(tgbotapi.NewMessage(chatID, part))
		if err != nil {
			s.bot.counters.TelegramError()
			return strings.Join(ids, ","), fmt.Errorf("failed to send message: %w", err)
		}
		ids = append(ids, strconv.Itoa(sent.MessageID))
	}
	s.bot.counters.MessageSent(severity.String())

	s.bot.logger.Debug().
		Int64("chat_id", chatID).
		Str("severity", severity.String()).
		Int("parts", len(ids)).
		Msg("Message sent")

	return strings.Join(ids, ","), nil
}

// Delete removes the message(s) messageID from chat channelID.
func (s *Sink) Delete(_ context.Context, channelID, messageID string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", channelID, err)
	}

	for _, raw := range strings.Split(messageID, ",") {
		if raw == "" {
			continue
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", raw, err)
		}
		if _, err := s.bot.api.Request(tgbotapi.NewDeleteMessage(chatID, id)); err != nil {
			s.bot.counters.TelegramError()
			return fmt.Errorf("failed to delete message %d: %w", id, err)
		}
	}
	return nil
}

// SplitMessage cuts text into parts of at most limit UTF-16 code units, the
// unit Telegram counts in, preferring to break after a newline in the second
// half of a part. A rune is never split.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if utf16Len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		units, cut, newline := 0, len(runes), -1
		for i, r := range runes {
			n := utf16.RuneLen(r)
			if n < 1 {
				n = 1
			}
			if units+n > limit {
				cut = i
				break
			}
			units += n
			if r == '\n' {
				newline = i
			}
		}
		if cut < len(runes) && newline >= cut/2 {
			cut = newline + 1
		}
		if cut == 0 {
			cut = 1
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}

func utf16Len(runes []rune) int {
	n := 0
	for _, r := range runes {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
