// Package telegram connects the dispatcher to a Telegram bot: a long-poll
// update loop feeding messages in, and a message sink sending replies out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/openbot/pkg/command"
	"github.com/rs/zerolog"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Counters receives connection statistics. *metrics.Metrics implements it.
type Counters interface {
	MessageReceived()
	MessageSent(severity string)
	TelegramError()
}

type nopCounters struct{}

func (nopCounters) MessageReceived()   {}
func (nopCounters) MessageSent(string) {}
func (nopCounters) TelegramError()     {}

// Config holds connection settings.
type Config struct {
	Token       string
	PollTimeout int // seconds
	Debug       bool
}

// DispatchFunc handles one inbound message.
type DispatchFunc func(ctx context.Context, msg command.Message)

// Bot represents a Telegram bot instance
type Bot struct {
	api      API
	self     tgbotapi.User
	config   Config
	logger   zerolog.Logger
	counters Counters

	mu      sync.Mutex
	running bool
}

// New authenticates with token and returns a bot.
func New(cfg Config, logger zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	api.Debug = cfg.Debug

	bot := NewWithAPI(api, api.Self, cfg, logger)
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")
	return bot, nil
}

// NewWithAPI returns a bot over an existing API client.
func NewWithAPI(api API, self tgbotapi.User, cfg Config, logger zerolog.Logger) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	return &Bot{
		api:      api,
		self:     self,
		config:   cfg,
		logger:   logger.With().Str("component", "telegram").Logger(),
		counters: nopCounters{},
	}
}

// SetCounters attaches connection statistics.
func (b *Bot) SetCounters(c Counters) {
	if c == nil {
		c = nopCounters{}
	}
	b.counters = c
}

// Username returns the bot's username.
func (b *Bot) Username() string {
	return b.self.UserName
}

// Run polls for updates and hands every text message to dispatch until ctx
// is cancelled. Messages are handled one at a time in arrival order.
func (b *Bot) Run(ctx context.Context, dispatch DispatchFunc) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info().Msg("Telegram bot started")
	handler := NewHandler(b)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info().Msg("Telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := handler.Convert(update)
			if !ok {
				continue
			}
			b.counters.MessageReceived()
			b.handle(ctx, dispatch, update.UpdateID, msg)
		}
	}
}

func (b *Bot) handle(ctx context.Context, dispatch DispatchFunc, updateID int, msg command.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Int("update_id", updateID).
				Msg("Panic while handling update")
		}
	}()
	dispatch(ctx, msg)
}

// IsRunning returns whether the update loop is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Sink returns the message sink sending through this bot.
func (b *Bot) Sink() *Sink {
	return &Sink{bot: b}
}
