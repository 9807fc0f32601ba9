package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/lesson-monitor/internal/models"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// TopicFinding flags one message as drifting away from the lesson.
type TopicFinding struct {
	MessageID string   `json:"message_id"`
	Reason    string   `json:"reason"`
	TopicType string   `json:"topic_type"`
	Severity  Severity `json:"severity"`
}

// TopicAnalyzer is a semantic classifier over a conversation window.
type TopicAnalyzer interface {
	AnalyzeTopics(ctx context.Context, messages []models.Message) ([]TopicFinding, error)
}

const topicSystemPrompt = `You monitor chat channels of programming lessons for high-school students.
Analyze the conversation and report messages that are not about the lesson or its retrospective.

Report:
1. Small talk unrelated to learning programming
2. Inappropriate content, negative or positive
3. Personal problems or counselling requests
4. Technical discussions unrelated to the lesson
5. Anything else that departs from the purpose of the lesson

Do not report:
- Questions and answers about programming
- Lesson retrospectives
- Discussion of assignments or homework
- Technical troubleshooting
- Constructive learning support

For each reported message give the topic type (small_talk, inappropriate, counselling, tech_discussion, other)
and the severity (low, medium, high).`

const offTopicFunction = "detect_off_topic"

const offTopicSchema = `{
  "type": "object",
  "properties": {
    "off_topic_messages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "message_id": {"type": "string"},
          "reason": {"type": "string"},
          "topic_type": {"type": "string"},
          "severity": {"type": "string", "enum": ["low", "medium", "high"]}
        },
        "required": ["message_id", "reason", "topic_type", "severity"]
      }
    }
  },
  "required": ["off_topic_messages"]
}`

// formatConversation renders one line per message, carrying the message id
// so findings can be mapped back.
func formatConversation(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[id=%s] [%s] %s(%s): %s\n",
			msg.ID,
			msg.Timestamp.Format("15:04"),
			displayName(msg.User),
			msg.User.UserType(),
			msg.Content)
	}
	return b.String()
}

func displayName(u models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// parseFindings decodes the detect_off_topic arguments object.
func parseFindings(raw string) ([]TopicFinding, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload struct {
		OffTopicMessages []TopicFinding `json:"off_topic_messages"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	findings := make([]TopicFinding, 0, len(payload.OffTopicMessages))
	for _, f := range payload.OffTopicMessages {
		if strings.TrimSpace(f.MessageID) == "" {
			continue
		}
		f.Severity = normalizeSeverity(f.Severity)
		findings = append(findings, f)
	}
	return findings, nil
}

func normalizeSeverity(s Severity) Severity {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
