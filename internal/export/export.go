package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// Sink renders a channel's messages to some output.
type Sink interface {
	Render(ctx context.Context, channelID string, messages []models.Message) (Result, error)
}

// Result describes a rendered export. A zero Result means nothing was exported.
type Result struct {
	Location string `json:"location,omitempty"`
	Rows     int    `json:"rows"`
}

func (r Result) Empty() bool {
	return r.Location == ""
}

var columns = []string{
	"message_id",
	"channel_name",
	"display_name",
	"username",
	"user_type",
	"roles",
	"content",
	"timestamp",
	"is_question",
	"reactions",
	"thread_id",
}

// New returns the file sink for format ("xlsx" or "csv").
func New(format, outputDir string) (Sink, error) {
	switch strings.ToLower(format) {
	case "", "xlsx", "excel":
		return NewXLSXSink(outputDir), nil
	case "csv":
		return NewCSVSink(outputDir), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func record(msg models.Message, timeLayout string) []string {
	return []string{
		msg.ID,
		msg.ChannelName,
		msg.User.DisplayName,
		msg.User.Username,
		msg.User.UserType(),
		strings.Join(msg.User.RoleNames(), ", "),
		msg.Content,
		msg.Timestamp.UTC().Format(timeLayout),
		strconv.FormatBool(msg.IsQuestion),
		strings.Join(msg.Reactions, ", "),
		msg.ThreadID,
	}
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// fileName builds <channel>_logs_<YYYYMMDD_HHMMSS>.<ext>.
func fileName(channelID string, messages []models.Message, now time.Time, ext string) string {
	name := ""
	if len(messages) > 0 {
		name = messages[0].ChannelName
	}
	if name == "" {
		name = channelID
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_.-")
	if name == "" {
		name = "channel"
	}
	return fmt.Sprintf("%s_logs_%s.%s", name, now.Format("20060102_150405"), ext)
}

func prepareDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func outputPath(dir, channelID string, messages []models.Message, now time.Time, ext string) string {
	return filepath.Join(dir, fileName(channelID, messages, now, ext))
}
