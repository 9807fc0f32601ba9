package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xaenox/lesson-monitor/internal/monitor"
	"go.uber.org/zap"
)

// Source serves Telegram as a chat source. The Bot API can neither list a
// bot's chats nor read history, so lesson channels come from the registry
// and history arrives only through live updates. Chat titles are looked up
// live when possible.
type Source struct {
	*monitor.RegistrySource

	api     telegramAPI
	matcher *models.LessonMatcher
	logger  *zap.Logger
}

func (b *Bot) Source(registry monitor.ChannelRegistry, matcher *models.LessonMatcher) *Source {
	if matcher == nil {
		matcher = models.NewLessonMatcher(nil)
	}
	return &Source{
		RegistrySource: monitor.NewRegistrySource(registry, matcher),
		api:            b.api,
		matcher:        matcher,
		logger:         b.logger,
	}
}

func (s *Source) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	if chatID, err := strconv.ParseInt(id, 10, 64); err == nil {
		chat, err := s.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		if err == nil && chat.Title != "" {
			ch := s.matcher.Channel(id, chat.Title)
			return &ch, nil
		}
		if err != nil {
			s.logger.Debug("Failed to get chat, using registry", zap.Error(err), zap.String("channel_id", id))
		}
	}
	return s.RegistrySource.GetChannel(ctx, id)
}
