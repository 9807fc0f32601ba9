package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not be an error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "lesson_logs.db" {
		t.Errorf("unexpected database defaults %+v", cfg.Database)
	}
	if cfg.Monitor.PollInterval != 30*time.Minute || cfg.Monitor.Workers != 4 {
		t.Errorf("unexpected monitor defaults %+v", cfg.Monitor)
	}
	if cfg.UnansweredThreshold() != 2*time.Hour {
		t.Errorf("unexpected threshold %v", cfg.UnansweredThreshold())
	}
	if cfg.Export.Format != "xlsx" || cfg.Dedup.ReservationTTL != 10*time.Minute {
		t.Errorf("unexpected defaults %+v %+v", cfg.Export, cfg.Dedup)
	}
	if len(cfg.Monitor.LessonKeywords) == 0 {
		t.Error("lesson keywords should have defaults")
	}
}

func TestLoadConfigFlatEnv(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("UNANSWERED_QUESTION_ALERT_HOURS", "3")
	t.Setenv("SPREADSHEET_FORMAT", "CSV")
	t.Setenv("OUTPUT_DIR", "/tmp/exports")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MONITOR_WORKERS", "8")
	t.Setenv("TELEGRAM_ADMIN_IDS", "1,2")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" || cfg.Slack.WebhookURL == "" {
		t.Errorf("flat env names not applied: %+v %+v", cfg.Telegram, cfg.Slack)
	}
	if cfg.Alerts.UnansweredHours != 3 || cfg.Export.Format != "csv" || cfg.Export.OutputDir != "/tmp/exports" {
		t.Errorf("unexpected values %+v %+v", cfg.Alerts, cfg.Export)
	}
	if cfg.Log.Level != "debug" || cfg.Monitor.Workers != 8 {
		t.Errorf("unexpected values %+v %+v", cfg.Log, cfg.Monitor)
	}
	if len(cfg.Telegram.AdminIDs) != 2 || cfg.Telegram.AdminIDs[1] != 2 {
		t.Errorf("unexpected admin ids %v", cfg.Telegram.AdminIDs)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
monitor:
  poll_interval: 5m
  lesson_keywords: ["seminar"]
notify:
  driver: log
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Monitor.PollInterval != 5*time.Minute || cfg.Monitor.LessonKeywords[0] != "seminar" {
		t.Errorf("file values not applied %+v", cfg.Monitor)
	}
	if cfg.Notify.Driver != "log" {
		t.Errorf("unexpected driver %q", cfg.Notify.Driver)
	}
}

func TestDatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://monitor:secret@db:5432/lessons?sslmode=disable")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"SPREADSHEET_FORMAT":              "pdf",
		"DATABASE_URL":                    "mysql://db/lessons",
		"UNANSWERED_QUESTION_ALERT_HOURS": "0",
		"NOTIFY_DRIVER":                   "pigeon",
	}
	for env, value := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			if _, err := LoadConfig(""); err == nil {
				t.Errorf("expected error for %s=%s", env, value)
			}
		})
	}
}

func TestSQLitePath(t *testing.T) {
	d := DatabaseConfig{Path: "lesson_logs.db", URL: "sqlite:///var/lib/monitor/logs.db"}
	if got := d.SQLitePath(); got != "/var/lib/monitor/logs.db" {
		t.Errorf("unexpected path %q", got)
	}
	if got := (DatabaseConfig{Path: "local.db"}).SQLitePath(); got != "local.db" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestWarnings(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.Detection.OffTopic = true
	cfg.API.Enabled = true

	joined := strings.Join(cfg.Warnings(), "\n")
	for _, want := range []string{"telegram.token", "notification target", "openai.api_key", "api.jwt_secret"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected warning about %s in %q", want, joined)
		}
	}
	if cfg.OffTopicEnabled() {
		t.Error("off-topic detection needs an api key")
	}

	cfg.Telegram.Token = "t"
	cfg.Telegram.AlertChatID = -100
	cfg.OpenAI.APIKey = "k"
	cfg.API.Enabled = false
	if w := cfg.Warnings(); len(w) != 0 {
		t.Errorf("expected no warnings, got %v", w)
	}
}

func TestBuildLogger(t *testing.T) {
	logger, err := LogConfig{Level: "warn"}.BuildLogger()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Error("debug should be disabled at warn level")
	}
}
