package detector

import (
	"context"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// Detector inspects an ascending message window of one channel and returns
// candidate alerts. Detectors never fail: unusable messages are skipped.
type Detector interface {
	Name() string
	Detect(ctx context.Context, channel models.Channel, messages []models.Message) []models.Alert
}

// Run applies every detector to the window and concatenates the candidates.
func Run(ctx context.Context, detectors []Detector, channel models.Channel, messages []models.Message) []models.Alert {
	window := usable(messages)
	if len(window) == 0 {
		return nil
	}

	var candidates []models.Alert
	for _, d := range detectors {
		if d == nil {
			continue
		}
		candidates = append(candidates, d.Detect(ctx, channel, window)...)
	}
	return candidates
}

// usable drops messages that cannot be reasoned about.
func usable(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == "" || m.Timestamp.IsZero() {
			continue
		}
		out = append(out, m)
	}
	return out
}

func nowFunc(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
