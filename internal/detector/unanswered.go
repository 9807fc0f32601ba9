package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

const DefaultUnansweredThreshold = 2 * time.Hour

// Unanswered flags a channel whose last message is a student-side question
// older than Threshold. Earlier messages in the window are ignored.
type Unanswered struct {
	Threshold time.Duration
	Now       func() time.Time
}

func NewUnanswered(threshold time.Duration) *Unanswered {
	if threshold <= 0 {
		threshold = DefaultUnansweredThreshold
	}
	return &Unanswered{Threshold: threshold}
}

func (d *Unanswered) Name() string {
	return string(models.AlertUnansweredQuestion)
}

func (d *Unanswered) Detect(_ context.Context, channel models.Channel, messages []models.Message) []models.Alert {
	window := usable(messages)
	if len(window) == 0 {
		return nil
	}

	last := window[len(window)-1]
	if !last.User.IsStudentSide() || !last.IsQuestion {
		return nil
	}

	now := nowFunc(d.Now)
	elapsed := now.Sub(last.Timestamp)
	if elapsed <= d.Threshold {
		return nil
	}

	channel.LastMessage = &last
	return []models.Alert{{
		Channel:     channel,
		Message:     last,
		Type:        models.AlertUnansweredQuestion,
		Description: fmt.Sprintf("Student question unanswered for %d hours", int(elapsed.Hours())),
		CreatedAt:   now,
	}}
}
