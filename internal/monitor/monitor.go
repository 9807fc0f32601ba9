package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/lesson-monitor/internal/dedup"
	"github.com/xaenox/lesson-monitor/internal/detector"
	"github.com/xaenox/lesson-monitor/internal/export"
	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xaenox/lesson-monitor/internal/notify"
	"github.com/xaenox/lesson-monitor/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatSource is the chat platform as seen by the pipeline.
type ChatSource interface {
	ListLessonChannels(ctx context.Context) ([]models.Channel, error)
	// GetChannel returns nil without error when the channel is unknown.
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	// FetchHistory returns events at or after since, oldest first. A positive
	// limit keeps only the newest limit events.
	FetchHistory(ctx context.Context, channelID string, since time.Time, limit int) ([]models.RawMessage, error)
}

type Options struct {
	PollInterval   time.Duration
	ScanWindow     time.Duration
	ReactiveWindow time.Duration
	Workers        int
	BackfillLimit  int
	BackfillDelay  time.Duration
	ExportLimit    int

	SourceTimeout time.Duration
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   30 * time.Minute,
		ScanWindow:     24 * time.Hour,
		ReactiveWindow: 6 * time.Hour,
		Workers:        4,
		BackfillLimit:  100,
		BackfillDelay:  time.Second,
		ExportLimit:    1000,
		SourceTimeout:  15 * time.Second,
		StoreTimeout:   10 * time.Second,
		NotifyTimeout:  10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ScanWindow <= 0 {
		o.ScanWindow = d.ScanWindow
	}
	if o.ReactiveWindow <= 0 {
		o.ReactiveWindow = d.ReactiveWindow
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.BackfillLimit <= 0 {
		o.BackfillLimit = d.BackfillLimit
	}
	if o.BackfillDelay < 0 {
		o.BackfillDelay = 0
	}
	if o.ExportLimit <= 0 {
		o.ExportLimit = d.ExportLimit
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = d.SourceTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = d.NotifyTimeout
	}
	return o
}

// Deps are the collaborators of a Service. A nil Source falls back to a
// RegistrySource over Store. A nil Exporter makes exports report
// ErrConfigurationIncomplete.
type Deps struct {
	Source    ChatSource
	Store     storage.Storage
	Dedup     dedup.Store
	Sink      notify.Sink
	Exporter  export.Sink
	Detectors []detector.Detector
	Matcher   *models.LessonMatcher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service drives ingestion, detection and alert dispatch.
type Service struct {
	source    ChatSource
	store     storage.Storage
	dedup     dedup.Store
	sink      notify.Sink
	exporter  export.Sink
	detectors []detector.Detector
	matcher   *models.LessonMatcher
	logger    *zap.Logger
	now       func() time.Time
	opts      Options
}

func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("monitor: storage is required")
	}
	if deps.Dedup == nil {
		return nil, errors.New("monitor: dedup store is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("monitor: notification sink is required")
	}

	s := &Service{
		source:    deps.Source,
		store:     deps.Store,
		dedup:     deps.Dedup,
		sink:      deps.Sink,
		exporter:  deps.Exporter,
		detectors: deps.Detectors,
		matcher:   deps.Matcher,
		logger:    deps.Logger,
		now:       deps.Now,
		opts:      opts.withDefaults(),
	}
	if s.matcher == nil {
		s.matcher = models.NewLessonMatcher(nil)
	}
	if s.source == nil {
		s.source = NewRegistrySource(deps.Store, s.matcher)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run backfills once, then scans on every poll interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Lesson monitor started",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Int("workers", s.opts.Workers))

	if err := s.Backfill(ctx); err != nil {
		s.logger.Error("Backfill failed", zap.Error(err))
	}
	s.runCycle(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Lesson monitor stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Polling cycle aborted", zap.Error(err))
	}
}

// Backfill loads recent history of every lesson channel into the store,
// pacing requests to respect source rate limits.
func (s *Service) Backfill(ctx context.Context) error {
	channels, err := s.listLessonChannels(ctx)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if s.opts.BackfillDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.BackfillDelay), 1)
	}

	stored := 0
	for _, ch := range channels {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
		raws, err := s.source.FetchHistory(fetchCtx, ch.ID, time.Time{}, s.opts.BackfillLimit)
		cancel()
		if err != nil {
			s.logger.Error("Failed to fetch channel history", zap.Error(err), zap.String("channel_id", ch.ID))
			continue
		}

		n, err := s.ingestBatch(context.WithoutCancel(ctx), ch, raws)
		stored += n
		if err != nil {
			s.logger.Error("Failed to store channel history", zap.Error(err), zap.String("channel_id", ch.ID))
		}
	}

	s.logger.Info("Backfill finished", zap.Int("channels", len(channels)), zap.Int("messages", stored))
	return nil
}

func (s *Service) listLessonChannels(ctx context.Context) ([]models.Channel, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
	defer cancel()

	channels, err := s.source.ListLessonChannels(listCtx)
	if err != nil {
		return nil, fmt.Errorf("list lesson channels: %w: %w", models.ErrSourceUnavailable, err)
	}

	lessons := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		ch.IsLessonChannel = s.matcher.IsLesson(ch.Name)
		if ch.IsLessonChannel {
			lessons = append(lessons, ch)
		}
	}
	return lessons, nil
}
