package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

// Sink delivers a typed alert. Rendering is entirely the sink's concern.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alert models.Alert) error
}

// LinkFunc builds a link back to the source message, or "" if none exists.
type LinkFunc func(channelID, messageID string) string

type Options struct {
	Driver string

	SlackWebhookURL string
	SlackChannel    string
	SlackUsername   string

	TelegramSender Sender
	TelegramChatID int64

	KafkaBrokers []string
	KafkaTopic   string

	MessageURL LinkFunc
	Logger     *zap.Logger
}

// New picks the sink named by Driver. "auto" takes the first configured
// target in the order slack, telegram, kafka and degrades to logging.
func New(opts Options) (Sink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := strings.ToLower(opts.Driver)
	if driver == "" || driver == "auto" {
		switch {
		case opts.SlackWebhookURL != "":
			driver = "slack"
		case opts.TelegramSender != nil && opts.TelegramChatID != 0:
			driver = "telegram"
		case len(opts.KafkaBrokers) > 0 && opts.KafkaTopic != "":
			driver = "kafka"
		default:
			driver = "log"
		}
	}

	switch driver {
	case "slack":
		if opts.SlackWebhookURL == "" {
			return nil, fmt.Errorf("slack webhook url: %w", models.ErrConfigurationIncomplete)
		}
		return NewSlackSink(opts.SlackWebhookURL, opts.SlackChannel, opts.SlackUsername, opts.MessageURL), nil
	case "telegram":
		if opts.TelegramSender == nil || opts.TelegramChatID == 0 {
			return nil, fmt.Errorf("telegram alert chat: %w", models.ErrConfigurationIncomplete)
		}
		return NewTelegramSink(opts.TelegramSender, opts.TelegramChatID, opts.MessageURL), nil
	case "kafka":
		if len(opts.KafkaBrokers) == 0 || opts.KafkaTopic == "" {
			return nil, fmt.Errorf("kafka brokers and topic: %w", models.ErrConfigurationIncomplete)
		}
		return NewKafkaSink(opts.KafkaBrokers, opts.KafkaTopic, logger), nil
	case "log":
		logger.Warn("No notification target configured, alerts will only be logged")
		return NewLogSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", opts.Driver)
	}
}

// LogSink writes alerts to the log. Used when no notification target exists.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Deliver(_ context.Context, alert models.Alert) error {
	s.logger.Warn("Alert",
		zap.Int64("alert_id", alert.ID),
		zap.String("alert_type", string(alert.Type)),
		zap.String("channel_id", alert.Channel.ID),
		zap.String("channel_name", alert.Channel.Name),
		zap.String("message_id", alert.Message.ID),
		zap.String("author", authorName(alert.Message.User)),
		zap.String("description", alert.Description))
	return nil
}

func authorName(u models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
