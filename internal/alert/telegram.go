package alert

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of the Telegram bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to a single operations chat.
type TelegramNotifier struct {
	sender Sender
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier authorizes the bot token and returns a notifier bound
// to chatID.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram alert bot authorized", zap.String("username", botAPI.Self.UserName))
	return NewTelegramNotifierWithSender(botAPI, chatID, logger), nil
}

// NewTelegramNotifierWithSender is used when the bot API client is built
// elsewhere.
func NewTelegramNotifierWithSender(sender Sender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, formatMessage(a))
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error("Failed to send Telegram alert",
			zap.String("source", a.Source),
			zap.Error(err))
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

func formatMessage(a Alert) string {
	icon := "⚠️"
	if a.Severity == SeverityCritical {
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", icon, escapeHTML(a.Summary))
	fmt.Fprintf(&b, "<b>Source:</b> %s\n", escapeHTML(a.Source))
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "<b>At:</b> %s\n", a.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if a.Detail != "" {
		fmt.Fprintf(&b, "\n%s", escapeHTML(a.Detail))
	}
	return b.String()
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
