package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/lesson-monitor/internal/models"
)

// Sender is the part of tgbotapi.BotAPI the sink needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts alerts into a staff chat.
type TelegramSink struct {
	sender     Sender
	chatID     int64
	messageURL LinkFunc
}

func NewTelegramSink(sender Sender, chatID int64, messageURL LinkFunc) *TelegramSink {
	return &TelegramSink{sender: sender, chatID: chatID, messageURL: messageURL}
}

func (s *TelegramSink) Name() string {
	return "telegram"
}

func (s *TelegramSink) Deliver(ctx context.Context, alert models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(s.chatID, s.formatAlert(alert))
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	if _, err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

func (s *TelegramSink) formatAlert(alert models.Alert) string {
	var title string
	switch alert.Type {
	case models.AlertUnansweredQuestion:
		title = "🚨 Unanswered question"
	case models.AlertOffTopic:
		title = "📢 Off-topic conversation"
	default:
		title = "⚠️ " + string(alert.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", EscapeMarkdown(title))
	fmt.Fprintf(&b, "*Channel:* %s\n", EscapeMarkdown("#"+alert.Channel.Name))
	fmt.Fprintf(&b, "*Author:* %s\n", EscapeMarkdown(authorName(alert.Message.User)))
	fmt.Fprintf(&b, "_%s_\n", EscapeMarkdown(truncate(alert.Message.Content, maxQuotedContent)))
	fmt.Fprintf(&b, "\n%s", EscapeMarkdown(alert.Description))

	if s.messageURL != nil {
		if link := s.messageURL(alert.Channel.ID, alert.Message.ID); link != "" {
			fmt.Fprintf(&b, "\n[Open message](%s)", link)
		}
	}
	return b.String()
}

// EscapeMarkdown escapes special characters for MarkdownV2.
func EscapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
