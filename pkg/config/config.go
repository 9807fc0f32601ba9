package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Detection DetectionConfig `mapstructure:"detection"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Export    ExportConfig    `mapstructure:"export"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

type TelegramConfig struct {
	Token       string  `mapstructure:"token"`
	AdminIDs    []int64 `mapstructure:"admin_ids"`
	AlertChatID int64   `mapstructure:"alert_chat_id"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
}

type NotifyConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=auto slack telegram kafka log"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"min=1"`
	Temperature float64 `mapstructure:"temperature" validate:"min=0,max=2"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AnalysisConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=openai gemini"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	URL    string `mapstructure:"url" validate:"required_if=Driver postgres"`
}

type DedupConfig struct {
	Backend        string        `mapstructure:"backend" validate:"oneof=sql memory redis"`
	ReservationTTL time.Duration `mapstructure:"reservation_ttl" validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ScanWindow     time.Duration `mapstructure:"scan_window" validate:"gt=0"`
	ReactiveWindow time.Duration `mapstructure:"reactive_window" validate:"gt=0"`
	Workers        int           `mapstructure:"workers" validate:"min=1"`
	BackfillLimit  int           `mapstructure:"backfill_limit" validate:"min=1"`
	BackfillDelay  time.Duration `mapstructure:"backfill_delay" validate:"min=0"`
	ExportLimit    int           `mapstructure:"export_limit" validate:"min=1"`
	LessonKeywords []string      `mapstructure:"lesson_keywords" validate:"min=1"`
}

type AlertsConfig struct {
	UnansweredHours int `mapstructure:"unanswered_hours" validate:"min=1"`
}

type DetectionConfig struct {
	OffTopic bool `mapstructure:"off_topic"`
}

type TimeoutsConfig struct {
	Source time.Duration `mapstructure:"source" validate:"gt=0"`
	Store  time.Duration `mapstructure:"store" validate:"gt=0"`
	Notify time.Duration `mapstructure:"notify" validate:"gt=0"`
}

type ExportConfig struct {
	Format    string   `mapstructure:"format" validate:"oneof=xlsx csv"`
	OutputDir string   `mapstructure:"output_dir" validate:"required"`
	S3        S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	KeepLocal       bool   `mapstructure:"keep_local"`
}

type APIConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// envAliases are the flat variable names of existing deployments.
var envAliases = map[string]string{
	"telegram.token":          "TELEGRAM_TOKEN",
	"slack.webhook_url":       "SLACK_WEBHOOK_URL",
	"openai.api_key":          "OPENAI_API_KEY",
	"gemini.api_key":          "GEMINI_API_KEY",
	"database.url":            "DATABASE_URL",
	"database.path":           "DATABASE_PATH",
	"export.output_dir":       "OUTPUT_DIR",
	"alerts.unanswered_hours": "UNANSWERED_QUESTION_ALERT_HOURS",
	"export.format":           "SPREADSHEET_FORMAT",
	"log.level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_ids", []int64{})
	v.SetDefault("telegram.alert_chat_id", 0)
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("slack.channel", "")
	v.SetDefault("slack.username", "Lesson Monitor")
	v.SetDefault("notify.driver", "auto")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "lesson-alerts")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("analysis.provider", "openai")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "lesson_logs.db")
	v.SetDefault("database.url", "")
	v.SetDefault("dedup.backend", "sql")
	v.SetDefault("dedup.reservation_ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("monitor.poll_interval", 30*time.Minute)
	v.SetDefault("monitor.scan_window", 24*time.Hour)
	v.SetDefault("monitor.reactive_window", 6*time.Hour)
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.backfill_limit", 100)
	v.SetDefault("monitor.backfill_delay", time.Second)
	v.SetDefault("monitor.export_limit", 1000)
	v.SetDefault("monitor.lesson_keywords", models.DefaultLessonKeywords)
	v.SetDefault("alerts.unanswered_hours", 2)
	v.SetDefault("detection.off_topic", false)
	v.SetDefault("timeouts.source", 15*time.Second)
	v.SetDefault("timeouts.store", 10*time.Second)
	v.SetDefault("timeouts.notify", 10*time.Second)
	v.SetDefault("export.format", "xlsx")
	v.SetDefault("export.output_dir", "output")
	v.SetDefault("export.s3.bucket", "")
	v.SetDefault("export.s3.prefix", "exports")
	v.SetDefault("export.s3.region", "")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.access_key_id", "")
	v.SetDefault("export.s3.secret_access_key", "")
	v.SetDefault("export.s3.use_path_style", false)
	v.SetDefault("export.s3.keep_local", false)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads .env, the optional YAML file at path and the environment,
// in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Export.Format = strings.ToLower(config.Export.Format)
	config.Log.Level = strings.ToLower(config.Log.Level)

	if config.Database.URL != "" {
		driver, err := parseDatabaseURL(config.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		explicit := v.InConfig("database.driver") || os.Getenv("DATABASE_DRIVER") != ""
		if !explicit {
			config.Database.Driver = driver
		}
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// parseDatabaseURL returns the driver implied by a connection URL.
func parseDatabaseURL(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		if u.Hostname() == "" {
			return "", errors.New("missing host")
		}
		return "postgres", nil
	case "sqlite", "file":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// SQLitePath returns the database file, honouring a sqlite:// URL.
func (d DatabaseConfig) SQLitePath() string {
	if d.URL == "" {
		return d.Path
	}
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "sqlite" && u.Scheme != "file") {
		return d.Path
	}
	if p := u.Host + u.Path; p != "" {
		return p
	}
	return u.Opaque
}

// Warnings lists incomplete settings. The affected subsystem is skipped and
// everything else starts normally.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.Telegram.Token == "" {
		warnings = append(warnings, "telegram.token is not set: the Telegram chat source and commands are disabled")
	}

	hasTarget := c.Slack.WebhookURL != "" ||
		(c.Telegram.Token != "" && c.Telegram.AlertChatID != 0) ||
		(len(c.Kafka.Brokers) > 0 && c.Kafka.Topic != "")
	if !hasTarget && c.Notify.Driver != "log" {
		warnings = append(warnings, "no notification target is configured: alerts will only be logged")
	}

	if c.Detection.OffTopic {
		switch {
		case c.Analysis.Provider == "openai" && c.OpenAI.APIKey == "":
			warnings = append(warnings, "openai.api_key is not set: off-topic detection is disabled")
		case c.Analysis.Provider == "gemini" && c.Gemini.APIKey == "":
			warnings = append(warnings, "gemini.api_key is not set: off-topic detection is disabled")
		}
	}

	if c.API.Enabled && c.API.JWTSecret == "" {
		warnings = append(warnings, "api.jwt_secret is not set: the admin API is disabled")
	}

	if c.Dedup.Backend == "sql" && c.Database.Driver == "memory" {
		warnings = append(warnings, "dedup.backend is sql but the database is in memory: dedup state is not persisted")
	}

	return warnings
}

// OffTopicEnabled reports whether the configured analysis provider has a key.
func (c *Config) OffTopicEnabled() bool {
	if !c.Detection.OffTopic {
		return false
	}
	if c.Analysis.Provider == "gemini" {
		return c.Gemini.APIKey != ""
	}
	return c.OpenAI.APIKey != ""
}

// UnansweredThreshold is the staff response deadline.
func (c *Config) UnansweredThreshold() time.Duration {
	return time.Duration(c.Alerts.UnansweredHours) * time.Hour
}

// BuildLogger creates the process logger for this configuration.
func (l LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
