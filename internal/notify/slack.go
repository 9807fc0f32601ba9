package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

const maxQuotedContent = 500

// SlackSink posts Block Kit messages to an incoming webhook.
type SlackSink struct {
	webhookURL string
	channel    string
	username   string
	messageURL LinkFunc
	client     *http.Client
}

func NewSlackSink(webhookURL, channel, username string, messageURL LinkFunc) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		messageURL: messageURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackSink) Name() string {
	return "slack"
}

func (s *SlackSink) Deliver(ctx context.Context, alert models.Alert) error {
	payload := s.buildPayload(alert)

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *SlackSink) buildPayload(alert models.Alert) map[string]interface{} {
	var title, icon string
	switch alert.Type {
	case models.AlertUnansweredQuestion:
		title, icon = "🚨 Unanswered question", "⏰"
	case models.AlertOffTopic:
		title, icon = "📢 Off-topic conversation detected", "💭"
	default:
		title, icon = "⚠️ "+string(alert.Type), "ℹ️"
	}

	userType := "student side"
	if alert.Message.User.IsStaff() {
		userType = "staff side"
	}

	fields := []map[string]interface{}{
		mrkdwn(fmt.Sprintf("*Channel:*\n#%s", alert.Channel.Name)),
		mrkdwn(fmt.Sprintf("*Author:*\n%s", authorName(alert.Message.User))),
	}
	if alert.Type == models.AlertUnansweredQuestion {
		fields = append(fields,
			mrkdwn(fmt.Sprintf("*Posted at:*\n%s", alert.Message.Timestamp.UTC().Format("2006-01-02 15:04:05"))),
			mrkdwn(fmt.Sprintf("*User type:*\n%s", userType)),
		)
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{"type": "plain_text", "text": title},
		},
		{
			"type":   "section",
			"fields": fields,
		},
		{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Message:*\n```%s```", truncate(alert.Message.Content, maxQuotedContent))),
		},
		{
			"type":     "context",
			"elements": []map[string]interface{}{mrkdwn(icon + " " + alert.Description)},
		},
	}

	if s.messageURL != nil {
		if link := s.messageURL(alert.Channel.ID, alert.Message.ID); link != "" {
			blocks = append(blocks, map[string]interface{}{
				"type": "actions",
				"elements": []map[string]interface{}{
					{
						"type":  "button",
						"text":  map[string]interface{}{"type": "plain_text", "text": "Open message"},
						"url":   link,
						"style": "primary",
					},
				},
			})
		}
	}

	payload := map[string]interface{}{
		"text":   fmt.Sprintf("%s - #%s", title, alert.Channel.Name),
		"blocks": blocks,
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}
	if s.username != "" {
		payload["username"] = s.username
	}
	return payload
}

func mrkdwn(text string) map[string]interface{} {
	return map[string]interface{}{"type": "mrkdwn", "text": text}
}
