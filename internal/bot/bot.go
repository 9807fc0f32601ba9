package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xaenox/lesson-monitor/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	roleCacheTTL         = 10 * time.Minute
	maxConcurrentUpdates = 16
)

// Service is what the bot needs from the monitor.
type Service interface {
	Ingest(ctx context.Context, raw models.RawMessage) error
	ExportLogsCommand(ctx context.Context, channelID string) string
	AnalyzeNowCommand(ctx context.Context) string
	UnresolvedAlerts(ctx context.Context) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, key models.DedupKey) error
}

// telegramAPI is the request side of tgbotapi.BotAPI.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

type Bot struct {
	client   *tgbotapi.BotAPI
	api      telegramAPI
	adminIDs map[int64]bool
	logger   *zap.Logger

	mu    sync.Mutex
	roles map[string]cachedRoles
}

type cachedRoles struct {
	labels  []string
	expires time.Time
}

func New(token string, adminIDs []int64, logger *zap.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token: %w", models.ErrConfigurationIncomplete)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))
	b := newBot(api, adminIDs, logger)
	b.client = api
	return b, nil
}

func newBot(api telegramAPI, adminIDs []int64, logger *zap.Logger) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Bot{
		api:      api,
		adminIDs: admins,
		logger:   logger,
		roles:    make(map[string]cachedRoles),
	}
}

// API exposes the sender so alerts can be posted through the same client.
func (b *Bot) API() notify.Sender {
	return b.api
}

// Start consumes updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context, svc Service) error {
	if b.client == nil {
		return fmt.Errorf("telegram client: %w", models.ErrConfigurationIncomplete)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "edited_message"}

	updates := b.client.GetUpdatesChan(u)
	defer b.client.StopReceivingUpdates()

	b.consume(ctx, svc, updates)
	return nil
}

// consume handles updates on a bounded pool and returns once every started
// handler has finished.
func (b *Bot) consume(ctx context.Context, svc Service, updates tgbotapi.UpdatesChannel) {
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentUpdates)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			g.Go(func() error {
				b.handleUpdate(ctx, svc, update)
				return nil
			})
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, svc Service, update tgbotapi.Update) {
	message := update.Message
	if message == nil {
		message = update.EditedMessage
	}
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	if message.IsCommand() && update.Message != nil {
		b.handleCommand(ctx, svc, message)
		return
	}

	if !isGroup(message.Chat) {
		return
	}

	raw := toRawMessage(message, b.roleLabels(message.Chat.ID, message.From))
	if err := svc.Ingest(ctx, raw); err != nil {
		b.logger.Error("Failed to ingest message",
			zap.Error(err),
			zap.String("channel_id", raw.ChannelID),
			zap.String("message_id", raw.ID))
	}
}

// roleLabels asks Telegram for the sender's membership, caching answers for
// a few minutes. Lookup failures yield no labels, i.e. a student.
func (b *Bot) roleLabels(chatID int64, from *tgbotapi.User) []string {
	cacheKey := fmt.Sprintf("%d:%d", chatID, from.ID)

	b.mu.Lock()
	cached, ok := b.roles[cacheKey]
	b.mu.Unlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.labels
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: from.ID},
	})
	if err != nil {
		b.logger.Warn("Failed to get chat member",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", from.ID))
		return memberLabels(tgbotapi.ChatMember{}, from.IsBot)
	}

	labels := memberLabels(member, from.IsBot)
	b.mu.Lock()
	b.roles[cacheKey] = cachedRoles{labels: labels, expires: time.Now().Add(roleCacheTTL)}
	b.mu.Unlock()
	return labels
}

// memberLabels turns a chat membership into free-text role labels. Custom
// admin titles such as "Lead Mentor" carry the staff role.
func memberLabels(member tgbotapi.ChatMember, isBot bool) []string {
	var labels []string
	switch member.Status {
	case "creator", "administrator":
		labels = append(labels, "administrator")
	}
	if title := strings.TrimSpace(member.CustomTitle); title != "" {
		labels = append(labels, title)
	}
	if isBot {
		labels = append(labels, "bot")
	}
	return labels
}

func toRawMessage(message *tgbotapi.Message, roles []string) models.RawMessage {
	content := message.Text
	if content == "" {
		content = message.Caption
	}

	raw := models.RawMessage{
		ID:          strconv.Itoa(message.MessageID),
		ChannelID:   strconv.FormatInt(message.Chat.ID, 10),
		ChannelName: message.Chat.Title,
		Content:     content,
		Timestamp:   message.Time().UTC(),
		Author: models.RawAuthor{
			ID:          strconv.FormatInt(message.From.ID, 10),
			Username:    username(message.From),
			DisplayName: strings.TrimSpace(message.From.FirstName + " " + message.From.LastName),
			Roles:       roles,
		},
	}
	if message.ReplyToMessage != nil {
		raw.ThreadID = strconv.Itoa(message.ReplyToMessage.MessageID)
	}
	return raw
}

func username(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

func isGroup(chat *tgbotapi.Chat) bool {
	return chat.IsGroup() || chat.IsSuperGroup()
}

// MessageLink builds a t.me link for supergroup messages. Basic groups have
// no public message links.
func MessageLink(channelID, messageID string) string {
	internal, ok := strings.CutPrefix(channelID, "-100")
	if !ok || internal == "" || messageID == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%s/%s", internal, messageID)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
