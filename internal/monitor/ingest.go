package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/lesson-monitor/internal/classifier"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

// Ingest stores one live event and, for lesson channels, runs a detection
// pass over the reactive window.
func (s *Service) Ingest(ctx context.Context, raw models.RawMessage) error {
	if err := raw.Validate(); err != nil {
		s.logger.Warn("Skipping malformed message",
			zap.String("channel_id", raw.ChannelID),
			zap.String("message_id", raw.ID),
			zap.Error(err))
		return err
	}

	// A started ingestion finishes even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	msg, err := s.persist(ctx, raw)
	if err != nil {
		return err
	}

	ch := s.channelFor(ctx, msg)
	if !ch.IsLessonChannel {
		return nil
	}

	res, err := s.evaluate(ctx, ch, s.opts.ReactiveWindow)
	if res.delivered > 0 {
		s.logger.Info("Reactive scan delivered alerts",
			zap.String("channel_id", ch.ID),
			zap.Int("delivered", res.delivered))
	}
	if err != nil {
		return &ChannelError{ChannelID: ch.ID, Err: err}
	}
	return nil
}

// channelFor resolves the lesson flag of the message's channel, asking the
// source for the name when the event did not carry one.
func (s *Service) channelFor(ctx context.Context, msg models.Message) models.Channel {
	name := msg.ChannelName
	if name == "" {
		srcCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
		ch, err := s.source.GetChannel(srcCtx, msg.ChannelID)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to look up channel", zap.Error(err), zap.String("channel_id", msg.ChannelID))
		} else if ch != nil {
			name = ch.Name
		}
	}
	return s.matcher.Channel(msg.ChannelID, name)
}

// ingestBatch stores a batch of events of one channel. Malformed events are
// skipped; a store failure aborts the batch.
func (s *Service) ingestBatch(ctx context.Context, ch models.Channel, raws []models.RawMessage) (int, error) {
	stored := 0
	for _, raw := range raws {
		if raw.ChannelID == "" {
			raw.ChannelID = ch.ID
		}
		if raw.ChannelName == "" {
			raw.ChannelName = ch.Name
		}
		if err := raw.Validate(); err != nil {
			s.logger.Warn("Skipping malformed message",
				zap.String("channel_id", ch.ID),
				zap.String("message_id", raw.ID),
				zap.Error(err))
			continue
		}
		if _, err := s.persist(ctx, raw); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// persist normalises a validated event, refreshes its author's roles and
// upserts channel, user and message.
func (s *Service) persist(ctx context.Context, raw models.RawMessage) (models.Message, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	user, err := s.store.GetUser(storeCtx, raw.Author.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		user = &models.User{ID: raw.Author.ID}
		s.logger.Debug("New user observed", zap.String("user_id", raw.Author.ID))
	case err != nil:
		return models.Message{}, fmt.Errorf("get user: %w: %w", models.ErrStoreFailure, err)
	}

	user.Username = raw.Author.Username
	user.DisplayName = raw.Author.Name()
	user.Roles = classifier.ClassifyRoles(raw.Author.Roles)
	if err := s.store.SaveUser(storeCtx, user); err != nil {
		return models.Message{}, fmt.Errorf("save user: %w: %w", models.ErrStoreFailure, err)
	}

	if raw.ChannelName != "" {
		if err := s.store.SaveChannel(storeCtx, models.Channel{ID: raw.ChannelID, Name: raw.ChannelName}); err != nil {
			return models.Message{}, fmt.Errorf("save channel: %w: %w", models.ErrStoreFailure, err)
		}
	}

	msg := models.Message{
		ID:          raw.ID,
		ChannelID:   raw.ChannelID,
		ChannelName: raw.ChannelName,
		User:        *user,
		Content:     raw.Content,
		Timestamp:   raw.Timestamp.UTC(),
		Reactions:   raw.Reactions,
		IsQuestion:  models.IsQuestion(raw.Content),
		ThreadID:    raw.ThreadID,
	}
	if err := s.store.SaveMessage(storeCtx, &msg); err != nil {
		return models.Message{}, fmt.Errorf("save message: %w: %w", models.ErrStoreFailure, err)
	}
	return msg, nil
}
