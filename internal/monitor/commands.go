package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/lesson-monitor/internal/export"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

const NothingExported = "No messages found for this channel, nothing exported."

// Export hands up to ExportLimit newest-first messages of a channel to the
// export sink. Detection and dedup are not involved.
func (s *Service) Export(ctx context.Context, channelID string) (export.Result, error) {
	if s.exporter == nil {
		return export.Result{}, fmt.Errorf("export sink: %w", models.ErrConfigurationIncomplete)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	messages, err := s.store.GetChannelMessages(storeCtx, channelID, s.opts.ExportLimit)
	cancel()
	if err != nil {
		return export.Result{}, fmt.Errorf("load messages: %w: %w", models.ErrStoreFailure, err)
	}

	res, err := s.exporter.Render(ctx, channelID, messages)
	if err != nil {
		return export.Result{}, fmt.Errorf("render export: %w", err)
	}

	s.logger.Info("Channel exported",
		zap.String("channel_id", channelID),
		zap.Int("rows", res.Rows),
		zap.String("location", res.Location))
	return res, nil
}

// ExportLogsCommand is the administrator command wrapping Export. Errors are
// returned as text.
func (s *Service) ExportLogsCommand(ctx context.Context, channelID string) string {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "Please specify a channel id."
	}

	res, err := s.Export(ctx, channelID)
	if err != nil {
		s.logger.Error("Export command failed", zap.Error(err), zap.String("channel_id", channelID))
		return "Export failed: " + err.Error()
	}
	if res.Empty() {
		return NothingExported
	}
	return fmt.Sprintf("Exported %d messages to %s", res.Rows, res.Location)
}

// AnalyzeNowCommand runs one polling cycle synchronously and summarises it.
func (s *Service) AnalyzeNowCommand(ctx context.Context) string {
	report, err := s.RunCycle(ctx)
	if err != nil {
		s.logger.Error("Analyze command failed", zap.Error(err))
		return "Analysis failed: " + err.Error()
	}

	text := fmt.Sprintf("Analysis complete: %d channels scanned, %d skipped, %d alerts sent, %d duplicates suppressed.",
		report.Scanned, report.Skipped, report.Delivered, report.Suppressed)

	if failures := report.Failures(); len(failures) > 0 {
		lines := make([]string, len(failures))
		for i, f := range failures {
			lines[i] = "- " + f.Error()
		}
		text += fmt.Sprintf("\n%d channel(s) failed:\n%s", len(failures), strings.Join(lines, "\n"))
	}
	if report.Cancelled {
		text += "\nThe cycle was cancelled before every channel was scanned."
	}
	return text
}

// UnresolvedAlerts lists delivered alerts that were not resolved yet.
func (s *Service) UnresolvedAlerts(ctx context.Context) ([]models.Alert, error) {
	entries, err := s.dedup.Unresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w: %w", models.ErrStoreFailure, err)
	}

	alerts := make([]models.Alert, 0, len(entries))
	for _, e := range entries {
		alert, err := s.store.GetAlert(ctx, e.AlertID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			// Dedup state outlived the alert row, e.g. memory storage after a restart.
			alerts = append(alerts, models.Alert{
				ID:        e.AlertID,
				Channel:   models.Channel{ID: e.Key.ChannelID},
				Message:   models.Message{ID: e.Key.MessageID, ChannelID: e.Key.ChannelID},
				Type:      e.Key.AlertType,
				CreatedAt: e.UpdatedAt,
			})
		case err != nil:
			return nil, fmt.Errorf("load alert %d: %w: %w", e.AlertID, models.ErrStoreFailure, err)
		default:
			alerts = append(alerts, *alert)
		}
	}
	return alerts, nil
}

// ResolveAlert marks a condition handled so that it may alert again.
func (s *Service) ResolveAlert(ctx context.Context, key models.DedupKey) error {
	if err := s.dedup.Resolve(ctx, key); err != nil {
		return err
	}
	s.logger.Info("Alert resolved", zap.String("dedup_key", key.String()))
	return nil
}
