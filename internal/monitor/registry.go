package monitor

import (
	"context"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// ChannelRegistry lists the channels seen by ingestion.
type ChannelRegistry interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
}

// RegistrySource is a ChatSource for platforms that push their events. Lesson
// channels come from the channel registry and history is never fetched, so
// scheduled cycles evaluate what ingestion has stored.
type RegistrySource struct {
	registry ChannelRegistry
	matcher  *models.LessonMatcher
}

func NewRegistrySource(registry ChannelRegistry, matcher *models.LessonMatcher) *RegistrySource {
	if matcher == nil {
		matcher = models.NewLessonMatcher(nil)
	}
	return &RegistrySource{registry: registry, matcher: matcher}
}

func (r *RegistrySource) ListLessonChannels(ctx context.Context) ([]models.Channel, error) {
	channels, err := r.registry.ListChannels(ctx)
	if err != nil {
		return nil, err
	}

	lessons := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		if r.matcher.IsLesson(ch.Name) {
			lessons = append(lessons, r.matcher.Channel(ch.ID, ch.Name))
		}
	}
	return lessons, nil
}

func (r *RegistrySource) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	channels, err := r.registry.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range channels {
		if c.ID == id {
			ch := r.matcher.Channel(c.ID, c.Name)
			return &ch, nil
		}
	}
	return nil, nil
}

// FetchHistory returns nothing: messages are stored as they arrive.
func (r *RegistrySource) FetchHistory(_ context.Context, _ string, _ time.Time, _ int) ([]models.RawMessage, error) {
	return nil, nil
}
