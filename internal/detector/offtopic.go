package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/lesson-monitor/internal/classifier"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

// OffTopic asks a semantic analyzer which messages drift away from the
// lesson and emits one candidate per flagged message in the window.
type OffTopic struct {
	Analyzer classifier.TopicAnalyzer
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewOffTopic(analyzer classifier.TopicAnalyzer, logger *zap.Logger) *OffTopic {
	return &OffTopic{Analyzer: analyzer, Logger: logger}
}

func (d *OffTopic) Name() string {
	return string(models.AlertOffTopic)
}

func (d *OffTopic) Detect(ctx context.Context, channel models.Channel, messages []models.Message) []models.Alert {
	if d.Analyzer == nil {
		return nil
	}
	window := usable(messages)
	if len(window) == 0 {
		return nil
	}

	findings, err := d.Analyzer.AnalyzeTopics(ctx, window)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Warn("Off-topic analysis failed",
				zap.String("channel_id", channel.ID),
				zap.Error(err))
		}
		return nil
	}

	byID := make(map[string]models.Message, len(window))
	for _, m := range window {
		byID[m.ID] = m
	}

	now := nowFunc(d.Now)
	var alerts []models.Alert
	seen := make(map[string]struct{})
	for _, f := range findings {
		msg, ok := byID[f.MessageID]
		if !ok {
			continue
		}
		if _, dup := seen[f.MessageID]; dup {
			continue
		}
		seen[f.MessageID] = struct{}{}

		alerts = append(alerts, models.Alert{
			Channel:     channel,
			Message:     msg,
			Type:        models.AlertOffTopic,
			Description: fmt.Sprintf("[%s] %s: %s", f.Severity, f.TopicType, f.Reason),
			CreatedAt:   now,
		})
	}
	return alerts
}
