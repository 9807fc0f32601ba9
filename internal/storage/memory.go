package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

type messageKey struct {
	channelID string
	id        string
}

type MemoryStorage struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	channels map[string]models.Channel
	messages map[messageKey]*storedMessage
	alerts   []*models.Alert
}

// storedMessage keeps a user reference so reads see the live user record.
type storedMessage struct {
	msg    models.Message
	userID string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:    make(map[string]*models.User),
		channels: make(map[string]models.Channel),
		messages: make(map[messageKey]*storedMessage),
	}
}

// User methods
func (s *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if user, exists := s.users[id]; exists {
		u := copyUser(*user)
		return &u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
}

func (s *MemoryStorage) SaveUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := copyUser(*user)
	s.users[user.ID] = &u
	return nil
}

// Channel registry
func (s *MemoryStorage) SaveChannel(ctx context.Context, channel models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels[channel.ID] = models.Channel{ID: channel.ID, Name: channel.Name}
	return nil
}

func (s *MemoryStorage) ListChannels(ctx context.Context) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]models.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

// Message methods
func (s *MemoryStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.Reactions = append([]string(nil), msg.Reactions...)
	if msg.Reactions != nil && stored.Reactions == nil {
		stored.Reactions = []string{}
	}
	s.messages[messageKey{msg.ChannelID, msg.ID}] = &storedMessage{msg: stored, userID: msg.User.ID}
	return nil
}

func (s *MemoryStorage) GetMessage(ctx context.Context, channelID, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.messages[messageKey{channelID, id}]
	if !exists {
		return nil, fmt.Errorf("message %s/%s: %w", channelID, id, models.ErrNotFound)
	}
	msg := s.resolve(stored)
	return &msg, nil
}

func (s *MemoryStorage) GetRecentMessages(ctx context.Context, channelID string, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for key, stored := range s.messages {
		if key.channelID != channelID || stored.msg.Timestamp.Before(since) {
			continue
		}
		out = append(out, s.resolve(stored))
	}
	sort.Slice(out, func(i, j int) bool {
		return messageBefore(out[i], out[j])
	})
	return out, nil
}

func (s *MemoryStorage) GetChannelMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for key, stored := range s.messages {
		if key.channelID == channelID {
			out = append(out, s.resolve(stored))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return messageBefore(out[j], out[i])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// messageBefore orders by timestamp, then id, like the SQL backends.
func messageBefore(a, b models.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

func (s *MemoryStorage) resolve(stored *storedMessage) models.Message {
	msg := stored.msg
	msg.Reactions = append([]string(nil), stored.msg.Reactions...)
	if stored.msg.Reactions != nil && msg.Reactions == nil {
		msg.Reactions = []string{}
	}
	if user, ok := s.users[stored.userID]; ok {
		msg.User = copyUser(*user)
	}
	return msg
}

// Alert methods
func (s *MemoryStorage) SaveAlert(ctx context.Context, alert *models.Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *alert
	a.ID = int64(len(s.alerts) + 1)
	a.Channel.LastMessage = nil
	s.alerts = append(s.alerts, &a)
	alert.ID = a.ID
	return a.ID, nil
}

func (s *MemoryStorage) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > int64(len(s.alerts)) {
		return nil, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	a := *s.alerts[id-1]
	return &a, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyUser(u models.User) models.User {
	if u.Roles != nil {
		u.Roles = append([]models.UserRole{}, u.Roles...)
	}
	return u
}
