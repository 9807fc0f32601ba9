package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

const (
	maxListedAlerts = 20
	resolveUsage    = "Usage: /resolve <chat_id> <message_id> <alert_type>"
)

func (b *Bot) handleCommand(ctx context.Context, svc Service, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
		return
	case "help":
		b.handleHelp(message)
		return
	}

	if !b.isAdmin(message) {
		b.sendMessage(message.Chat.ID, "This command is only available to administrators.")
		return
	}

	switch message.Command() {
	case "export_logs":
		channelID := strings.TrimSpace(message.CommandArguments())
		if channelID == "" {
			channelID = strconv.FormatInt(message.Chat.ID, 10)
		}
		if !b.canManage(message, channelID) {
			b.sendMessage(message.Chat.ID, notChatAdmin(channelID))
			return
		}
		b.sendMessage(message.Chat.ID, svc.ExportLogsCommand(ctx, channelID))
	case "analyze_now":
		b.sendMessage(message.Chat.ID, "Analysis started...")
		b.sendMessage(message.Chat.ID, svc.AnalyzeNowCommand(ctx))
	case "alerts":
		b.handleAlerts(ctx, svc, message)
	case "resolve":
		b.handleResolve(ctx, svc, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Lesson monitor is running.
I watch lesson chats and notify staff about student questions that stay unanswered.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Show the welcome message
/help - Show this help message

Administrators only:
/export_logs [chat_id] - Export the message log of a chat (defaults to this chat)
/analyze_now - Run a monitoring cycle now
/alerts - List delivered alerts that are not resolved
/resolve <chat_id> <message_id> <alert_type> - Mark an alert as handled`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleAlerts(ctx context.Context, svc Service, message *tgbotapi.Message) {
	alerts, err := svc.UnresolvedAlerts(ctx)
	if err != nil {
		b.logger.Error("Failed to list unresolved alerts", zap.Error(err))
		b.sendMessage(message.Chat.ID, "Failed to list alerts: "+err.Error())
		return
	}
	b.sendMessage(message.Chat.ID, formatAlerts(alerts))
}

func (b *Bot) handleResolve(ctx context.Context, svc Service, message *tgbotapi.Message) {
	key, err := parseResolveArgs(message.CommandArguments())
	if err != nil {
		b.sendMessage(message.Chat.ID, "Invalid arguments: "+err.Error()+"\n"+resolveUsage)
		return
	}
	if !b.canManage(message, key.ChannelID) {
		b.sendMessage(message.Chat.ID, notChatAdmin(key.ChannelID))
		return
	}

	switch err := svc.ResolveAlert(ctx, key); {
	case errors.Is(err, models.ErrNotFound):
		b.sendMessage(message.Chat.ID, "No alert found for "+key.String())
	case err != nil:
		b.logger.Error("Failed to resolve alert", zap.Error(err), zap.String("dedup_key", key.String()))
		b.sendMessage(message.Chat.ID, "Failed to resolve alert: "+err.Error())
	default:
		b.sendMessage(message.Chat.ID, "Resolved "+key.String())
	}
}

func parseResolveArgs(args string) (models.DedupKey, error) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		return models.DedupKey{}, fmt.Errorf("expected 3 arguments, got %d", len(fields))
	}

	alertType := models.AlertType(fields[2])
	switch alertType {
	case models.AlertUnansweredQuestion, models.AlertOffTopic:
	default:
		return models.DedupKey{}, fmt.Errorf("unknown alert type %q, expected %s or %s",
			fields[2], models.AlertUnansweredQuestion, models.AlertOffTopic)
	}

	return models.DedupKey{ChannelID: fields[0], MessageID: fields[1], AlertType: alertType}, nil
}

func formatAlerts(alerts []models.Alert) string {
	if len(alerts) == 0 {
		return "No unresolved alerts."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Unresolved alerts: %d\n", len(alerts))
	for i, a := range alerts {
		if i == maxListedAlerts {
			fmt.Fprintf(&sb, "...and %d more", len(alerts)-maxListedAlerts)
			break
		}
		channel := a.Channel.Name
		if channel == "" {
			channel = a.Channel.ID
		}
		fmt.Fprintf(&sb, "\n#%s %s", channel, a.Type)
		if !a.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, " (%s)", a.CreatedAt.UTC().Format("2006-01-02 15:04"))
		}
		if a.Description != "" {
			fmt.Fprintf(&sb, "\n  %s", a.Description)
		}
		fmt.Fprintf(&sb, "\n  /resolve %s %s %s\n", a.Channel.ID, a.Message.ID, a.Type)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// isAdmin accepts configured admin ids anywhere and chat administrators in
// their own group.
func (b *Bot) isAdmin(message *tgbotapi.Message) bool {
	if b.adminIDs[message.From.ID] {
		return true
	}
	if !isGroup(message.Chat) {
		return false
	}
	return b.isChatAdmin(message.Chat.ID, message.From.ID)
}

// canManage reports whether the sender may act on channelID. Chat
// administrators manage only the chat they are administrators of.
func (b *Bot) canManage(message *tgbotapi.Message, channelID string) bool {
	if b.adminIDs[message.From.ID] {
		return true
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return false
	}
	if chatID == message.Chat.ID {
		return true
	}
	return b.isChatAdmin(chatID, message.From.ID)
}

func (b *Bot) isChatAdmin(chatID, userID int64) bool {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		b.logger.Warn("Failed to check admin status",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID))
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

func notChatAdmin(channelID string) string {
	return "You are not an administrator of chat " + channelID + "."
}
