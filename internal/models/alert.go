package models

import (
	"fmt"
	"time"
)

type AlertType string

const (
	AlertUnansweredQuestion AlertType = "unanswered_question"
	AlertOffTopic           AlertType = "off_topic"
)

// Alert is a fact about a point in time. It is never mutated once created;
// resolution is tracked by the dedup store against Alert.Key().
type Alert struct {
	ID          int64     `json:"id,omitempty"`
	Channel     Channel   `json:"channel"`
	Message     Message   `json:"message"`
	Type        AlertType `json:"alert_type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a Alert) Key() DedupKey {
	return DedupKey{
		ChannelID: a.Channel.ID,
		MessageID: a.Message.ID,
		AlertType: a.Type,
	}
}

// DedupKey identifies one alertable condition.
type DedupKey struct {
	ChannelID string    `json:"channel_id" binding:"required"`
	MessageID string    `json:"message_id" binding:"required"`
	AlertType AlertType `json:"alert_type" binding:"required"`
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ChannelID, k.MessageID, k.AlertType)
}
