package push

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"daily-nudge/internal/model"
)

// TelegramSender delivers payloads as Telegram chat messages.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

func NewTelegramSender(api *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

func (s *TelegramSender) Send(ctx context.Context, sub model.Subscription, p model.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(sub.ChatID, FormatText(p))
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// FormatText renders a payload as plain chat text.
func FormatText(p model.Payload) string {
	var b strings.Builder
	b.WriteString("🔔 ")
	b.WriteString(strings.TrimSpace(p.Title))
	if body := strings.TrimSpace(p.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
