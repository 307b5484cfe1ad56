package notify

import (
	"context"
	"fmt"

	"cleanbook/internal/config"
	"cleanbook/internal/domain"
	"cleanbook/internal/metrics"
	"cleanbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier posts booking changes to the admin chat.
type TelegramNotifier struct {
	bot    domain.TelegramSender
	chatID int64
	logger *zerolog.Logger
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func NewTelegramNotifier(bot domain.TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) Notify(ctx context.Context, kind Kind, b *models.Booking) (Result, error) {
	if err := n.SendText(Body(kind, b)); err != nil {
		metrics.NotificationsTotal.WithLabelValues("telegram", string(kind), "error").Inc()
		return Result{Channel: "telegram"}, err
	}
	metrics.NotificationsTotal.WithLabelValues("telegram", string(kind), "sent").Inc()
	n.logger.Debug().Str("kind", string(kind)).Int64("booking_id", b.ID).Msg("Telegram notification sent")
	return Result{Sent: true, Channel: "telegram"}, nil
}

// SendText posts plain text to the admin chat.
func (n *TelegramNotifier) SendText(text string) error {
	if n.chatID == 0 {
		return fmt.Errorf("telegram admin chat id is not configured")
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
