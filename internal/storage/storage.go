package storage

import (
	"context"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

type Storage interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error

	SaveChannel(ctx context.Context, channel models.Channel) error
	ListChannels(ctx context.Context) ([]models.Channel, error)

	// Embed MessageStorage interface
	MessageStorage

	SaveAlert(ctx context.Context, alert *models.Alert) (int64, error)
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)

	Close() error
}

type MessageStorage interface {
	// SaveMessage replaces any stored message with the same channel and id.
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, channelID, id string) (*models.Message, error)
	// GetRecentMessages returns messages at or after since, oldest first.
	GetRecentMessages(ctx context.Context, channelID string, since time.Time) ([]models.Message, error)
	// GetChannelMessages returns up to limit messages, newest first.
	GetChannelMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error)
}
