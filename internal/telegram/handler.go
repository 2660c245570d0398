package telegram

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/openbot/pkg/command"
	"github.com/rs/zerolog"
)

// Handler turns Telegram updates into dispatcher messages.
type Handler struct {
	bot    *Bot
	logger zerolog.Logger
}

// NewHandler creates a new message handler
func NewHandler(bot *Bot) *Handler {
	return &Handler{
		bot:    bot,
		logger: bot.logger.With().Str("module", "handler").Logger(),
	}
}

// Convert extracts the message of update. It reports false for updates
// without a text or caption and for messages without a sender.
func (h *Handler) Convert(update tgbotapi.Update) (command.Message, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return command.Message{}, false
	}

	text := ParseCaption(msg)
	if strings.TrimSpace(text) == "" {
		return command.Message{}, false
	}

	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	if isGroup {
		text = h.stripMention(text)
	}

	h.logger.Debug().
		Int64("chat_id", msg.Chat.ID).
		Int64("user_id", msg.From.ID).
		Str("username", msg.From.UserName).
		Bool("is_group", isGroup).
		Msg("Message received")

	return command.Message{
		Text:      text,
		UserID:    strconv.FormatInt(msg.From.ID, 10),
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
	}, true
}

// stripMention removes a trailing @botname from the first token, the form
// group clients use to address one bot among several.
func (h *Handler) stripMention(text string) string {
	username := h.bot.Username()
	if username == "" {
		return text
	}

	first, rest, _ := strings.Cut(text, " ")
	suffix := "@" + username
	if len(first) > len(suffix) && strings.EqualFold(first[len(first)-len(suffix):], suffix) {
		first = first[:len(first)-len(suffix)]
		if rest == "" {
			return first
		}
		return first + " " + rest
	}
	return text
}

// ParseCaption extracts caption from a message
func ParseCaption(msg *tgbotapi.Message) string {
	if msg.Caption != "" {
		return msg.Caption
	}
	return msg.Text
}
