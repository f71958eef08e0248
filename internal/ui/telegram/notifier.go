// Package telegram pushes run summaries to an operator chat.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// sender is the slice of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier implements ports.Notifier over the Telegram Bot API.
type Notifier struct {
	bot    sender
	chatID int64
	logger *zap.Logger
}

func NewNotifier(token, chatIDStr string, logger *zap.Logger) (*Notifier, error) {
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %v", err)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newNotifier(bot, chatID, logger), nil
}

func newNotifier(bot sender, chatID int64, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{bot: bot, chatID: chatID, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("*[%s]*\n\n%s", escapeMarkdown(title), escapeMarkdown(body)))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("telegram notify failed", zap.Error(err))
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// escapeMarkdown escapes the characters legacy Markdown mode treats as markup.
func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
