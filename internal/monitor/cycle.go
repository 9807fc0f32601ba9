package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/lesson-monitor/internal/detector"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChannelError is a failure isolated to one channel's scan.
type ChannelError struct {
	ChannelID string
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.ChannelID, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// CycleReport summarises one polling cycle.
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Channels   int
	Scanned    int
	Skipped    int
	Delivered  int
	Suppressed int
	Cancelled  bool
	// Err combines every ChannelError of the cycle.
	Err error

	mu sync.Mutex
}

func (r *CycleReport) Failures() []error {
	return multierr.Errors(r.Err)
}

func (r *CycleReport) record(channelID string, res scanResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.skipped {
		r.Skipped++
	} else {
		r.Scanned++
	}
	r.Delivered += res.delivered
	r.Suppressed += res.suppressed
	if err != nil {
		r.Err = multierr.Append(r.Err, &ChannelError{ChannelID: channelID, Err: err})
	}
}

type scanResult struct {
	skipped    bool
	delivered  int
	suppressed int
}

// RunCycle discovers lesson channels and scans them on a bounded worker
// pool. Cancellation stops new scans; scans already started run to the end.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		ID:        uuid.New().String(),
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With(zap.String("cycle_id", report.ID))

	channels, err := s.listLessonChannels(ctx)
	if err != nil {
		report.FinishedAt = s.now().UTC()
		return report, err
	}
	report.Channels = len(channels)
	logger.Info("Polling cycle started", zap.Int("channels", len(channels)))

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	for _, ch := range channels {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		ch := ch
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := s.scanChannel(context.WithoutCancel(ctx), ch)
			report.record(ch.ID, res, err)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		report.Cancelled = true
	}
	report.FinishedAt = s.now().UTC()

	for _, failure := range report.Failures() {
		logger.Warn("Channel scan failed", zap.Error(failure))
	}
	logger.Info("Polling cycle finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("skipped", report.Skipped),
		zap.Int("delivered", report.Delivered),
		zap.Int("suppressed", report.Suppressed),
		zap.Int("failed", len(report.Failures())),
		zap.Bool("cancelled", report.Cancelled))

	return report, nil
}

// scanChannel fetches the channel's recent history, stores it and runs
// detection over the stored window.
func (s *Service) scanChannel(ctx context.Context, ch models.Channel) (scanResult, error) {
	since := s.now().UTC().Add(-s.opts.ScanWindow)

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
	raws, err := s.source.FetchHistory(fetchCtx, ch.ID, since, 0)
	cancel()
	if err != nil {
		return scanResult{}, fmt.Errorf("fetch history: %w: %w", models.ErrSourceUnavailable, err)
	}

	if _, err := s.ingestBatch(ctx, ch, raws); err != nil {
		return scanResult{}, err
	}

	return s.evaluate(ctx, ch, s.opts.ScanWindow)
}

// evaluate runs the detectors over the stored window and dispatches the
// surviving candidates.
func (s *Service) evaluate(ctx context.Context, ch models.Channel, window time.Duration) (scanResult, error) {
	since := s.now().UTC().Add(-window)

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	messages, err := s.store.GetRecentMessages(storeCtx, ch.ID, since)
	cancel()
	if err != nil {
		return scanResult{}, fmt.Errorf("load window: %w: %w", models.ErrStoreFailure, err)
	}

	if len(messages) == 0 {
		s.logger.Debug("No recent messages, skipping channel", zap.String("channel_id", ch.ID))
		return scanResult{skipped: true}, nil
	}

	last := messages[len(messages)-1]
	ch.LastMessage = &last

	var (
		res  scanResult
		errs error
	)
	for _, alert := range detector.Run(ctx, s.detectors, ch, messages) {
		delivered, err := s.dispatch(ctx, alert)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if delivered {
			res.delivered++
		} else {
			res.suppressed++
		}
	}
	return res, errs
}

// dispatch delivers a candidate at most once per dedup key. The key is
// reserved first, the alert row is stored, the sink is called, and only a
// successful delivery confirms the key. Any failure before confirmation
// releases the reservation so the next cycle retries.
func (s *Service) dispatch(ctx context.Context, alert models.Alert) (bool, error) {
	key := alert.Key()
	logger := s.logger.With(
		zap.String("channel_id", key.ChannelID),
		zap.String("message_id", key.MessageID),
		zap.String("alert_type", string(key.AlertType)))

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	reserved, err := s.dedup.Reserve(storeCtx, key)
	cancel()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w: %w", key, models.ErrStoreFailure, err)
	}
	if !reserved {
		logger.Info("Suppressing duplicate alert", zap.String("dedup_key", key.String()))
		return false, nil
	}

	storeCtx, cancel = context.WithTimeout(ctx, s.opts.StoreTimeout)
	id, err := s.store.SaveAlert(storeCtx, &alert)
	cancel()
	if err != nil {
		s.release(ctx, key, logger)
		return false, fmt.Errorf("save alert %s: %w: %w", key, models.ErrStoreFailure, err)
	}

	notifyCtx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	err = s.sink.Deliver(notifyCtx, alert)
	cancel()
	if err != nil {
		s.release(ctx, key, logger)
		return false, fmt.Errorf("deliver %s via %s: %w: %w", key, s.sink.Name(), models.ErrDeliveryFailure, err)
	}

	storeCtx, cancel = context.WithTimeout(ctx, s.opts.StoreTimeout)
	err = s.dedup.Confirm(storeCtx, key, id)
	cancel()
	if err != nil {
		// The pending reservation keeps suppressing until it expires.
		return true, fmt.Errorf("confirm %s: %w: %w", key, models.ErrStoreFailure, err)
	}

	logger.Info("Alert delivered", zap.Int64("alert_id", id), zap.String("sink", s.sink.Name()))
	return true, nil
}

func (s *Service) release(ctx context.Context, key models.DedupKey, logger *zap.Logger) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.dedup.Release(storeCtx, key); err != nil {
		logger.Error("Failed to release dedup reservation", zap.Error(err))
	}
}
