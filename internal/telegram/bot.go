package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"grid-trade-bot-go/internal/trader"
)

// maxMessageLength is the Telegram limit for a single text message.
const maxMessageLength = 4096

// Controller is the part of the trading engine the chat can drive.
type Controller interface {
	Start() bool
	Stop() bool
	Status() trader.Status
	Scan(ctx context.Context) (trader.ScanReport, error)
}

// Bot serves commands from a single chat and delivers engine notifications to it.
type Bot struct {
	api        *tgbotapi.BotAPI
	chatID     int64
	logger     *zap.Logger
	controller Controller
}

// NewBot authorizes against the Telegram API with token.
func NewBot(token string, chatID int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewBotWithAPI(api, chatID, logger), nil
}

// NewBotWithAPI wraps an already authorized client.
func NewBotWithAPI(api *tgbotapi.BotAPI, chatID int64, logger *zap.Logger) *Bot {
	l := logger.Named("telegram")
	if api != nil {
		l.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	}
	return &Bot{
		api:    api,
		chatID: chatID,
		logger: l,
	}
}

// SetController attaches the engine. It must be called before Run.
func (b *Bot) SetController(c Controller) {
	b.controller = c
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Listening for telegram commands", zap.Int64("chat_id", b.chatID))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				b.logger.Warn("Unauthorized access attempt", zap.Int64("chat_id", update.Message.Chat.ID))
				continue
			}
			if !update.Message.IsCommand() {
				continue
			}
			go b.reply(ctx, update.Message.Command())
		}
	}
}

func (b *Bot) reply(ctx context.Context, command string) {
	b.logger.Info("Received command", zap.String("command", command))
	if err := b.Notify(ctx, b.handleCommand(ctx, command)); err != nil {
		b.logger.Error("Failed to send telegram message", zap.Error(err))
	}
}

// handleCommand executes command and returns the reply text.
func (b *Bot) handleCommand(ctx context.Context, command string) string {
	if b.controller == nil {
		return "Engine is not ready yet."
	}

	switch command {
	case "start":
		if !b.controller.Start() {
			return "Bot already running."
		}
		return "BOT STARTED — GRID RUNNING"
	case "stop":
		if !b.controller.Stop() {
			return "Bot already stopped."
		}
		return "Bot stopped."
	case "scan":
		report, err := b.controller.Scan(ctx)
		if err != nil {
			return fmt.Sprintf("❌ Scan failed: %v", err)
		}
		return formatScan(report)
	case "status":
		return formatStatus(b.controller.Status())
	case "help":
		return helpText
	default:
		return "Unknown command. Use /help to see available commands."
	}
}

// Notify sends text to the configured chat, splitting it into several
// messages when it exceeds the Telegram limit.
func (b *Bot) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, part := range splitMessage(text, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.api.Send(tgbotapi.NewMessage(b.chatID, part)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// splitMessage breaks text on line boundaries into chunks of at most
// maxLength runes. Lines longer than maxLength are cut.
func splitMessage(text string, maxLength int) []string {
	if len([]rune(text)) <= maxLength {
		return []string{text}
	}

	var messages []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			messages = append(messages, string(current))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > maxLength {
			flush()
			messages = append(messages, string(runes[:maxLength]))
			runes = runes[maxLength:]
		}
		if len(current) > 0 && len(current)+1+len(runes) > maxLength {
			flush()
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, runes...)
	}
	flush()

	return messages
}
