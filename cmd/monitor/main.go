package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xaenox/lesson-monitor/internal/api"
	"github.com/xaenox/lesson-monitor/internal/bot"
	"github.com/xaenox/lesson-monitor/internal/classifier"
	"github.com/xaenox/lesson-monitor/internal/dedup"
	"github.com/xaenox/lesson-monitor/internal/detector"
	"github.com/xaenox/lesson-monitor/internal/export"
	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xaenox/lesson-monitor/internal/monitor"
	"github.com/xaenox/lesson-monitor/internal/notify"
	"github.com/xaenox/lesson-monitor/internal/storage"
	"github.com/xaenox/lesson-monitor/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	issueToken := flag.String("issue-token", "", "print an admin API token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of an issued admin token")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := api.IssueToken(cfg.API.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Initialize logger
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration incomplete", zap.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Lesson monitor failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize storage
	store, err := storage.Open(ctx, storage.DatabaseConfig{
		Driver:         cfg.Database.Driver,
		Path:           cfg.Database.SQLitePath(),
		URL:            cfg.Database.URL,
		ReservationTTL: cfg.Dedup.ReservationTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	dedupStore, err := openDedup(cfg, store, logger)
	if err != nil {
		return err
	}
	if rs, ok := dedupStore.(*dedup.RedisStore); ok {
		defer rs.Close()
	}

	var tgBot *bot.Bot
	if cfg.Telegram.Token != "" {
		tgBot, err = bot.New(cfg.Telegram.Token, cfg.Telegram.AdminIDs, logger)
		if err != nil {
			logger.Error("Telegram bot disabled", zap.Error(err))
			tgBot = nil
		}
	}

	matcher := models.NewLessonMatcher(cfg.Monitor.LessonKeywords)

	notifyOpts := notify.Options{
		Driver:          cfg.Notify.Driver,
		SlackWebhookURL: cfg.Slack.WebhookURL,
		SlackChannel:    cfg.Slack.Channel,
		SlackUsername:   cfg.Slack.Username,
		KafkaBrokers:    cfg.Kafka.Brokers,
		KafkaTopic:      cfg.Kafka.Topic,
		MessageURL:      bot.MessageLink,
		Logger:          logger,
	}
	if tgBot != nil {
		notifyOpts.TelegramSender = tgBot.API()
		notifyOpts.TelegramChatID = cfg.Telegram.AlertChatID
	}
	sink, err := notify.New(notifyOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize notification sink: %w", err)
	}
	if closer, ok := sink.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("Notification sink ready", zap.String("sink", sink.Name()))

	exporter, err := export.New(cfg.Export.Format, cfg.Export.OutputDir)
	if err != nil {
		return err
	}
	if cfg.Export.S3.Bucket != "" {
		s3cfg := cfg.Export.S3
		exporter, err = export.NewS3Sink(ctx, exporter, export.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
			KeepLocal:       s3cfg.KeepLocal,
		}, logger)
		if err != nil {
			return err
		}
	}

	detectors := []detector.Detector{detector.NewUnanswered(cfg.UnansweredThreshold())}
	if cfg.OffTopicEnabled() {
		offTopic, closeAnalyzer, err := newOffTopicDetector(ctx, cfg, logger)
		if err != nil {
			logger.Error("Off-topic detection disabled", zap.Error(err))
		} else {
			defer closeAnalyzer()
			detectors = append(detectors, offTopic)
		}
	}

	var source monitor.ChatSource = monitor.NewRegistrySource(store, matcher)
	if tgBot != nil {
		source = tgBot.Source(store, matcher)
	} else {
		logger.Warn("Telegram disabled, scheduled cycles scan channels of pushed events only")
	}

	svc, err := monitor.New(monitor.Deps{
		Source:    source,
		Store:     store,
		Dedup:     dedupStore,
		Sink:      sink,
		Exporter:  exporter,
		Detectors: detectors,
		Matcher:   matcher,
		Logger:    logger,
	}, monitor.Options{
		PollInterval:   cfg.Monitor.PollInterval,
		ScanWindow:     cfg.Monitor.ScanWindow,
		ReactiveWindow: cfg.Monitor.ReactiveWindow,
		Workers:        cfg.Monitor.Workers,
		BackfillLimit:  cfg.Monitor.BackfillLimit,
		BackfillDelay:  cfg.Monitor.BackfillDelay,
		ExportLimit:    cfg.Monitor.ExportLimit,
		SourceTimeout:  cfg.Timeouts.Source,
		StoreTimeout:   cfg.Timeouts.Store,
		NotifyTimeout:  cfg.Timeouts.Notify,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})
	if tgBot != nil {
		g.Go(func() error {
			return tgBot.Start(ctx, svc)
		})
	}
	if cfg.API.Enabled && cfg.API.JWTSecret != "" {
		server, err := api.NewServer(svc, cfg.API.JWTSecret, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return server.Run(ctx, cfg.API.Addr)
		})
	}

	return g.Wait()
}

// openDedup picks the dedup store. The sql backend keeps dedup state in the
// message database.
func openDedup(cfg *config.Config, store storage.Storage, logger *zap.Logger) (dedup.Store, error) {
	switch cfg.Dedup.Backend {
	case "redis":
		rs, err := dedup.NewRedisStore(dedup.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Dedup.ReservationTTL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Using Redis dedup store", zap.String("addr", cfg.Redis.Addr))
		return rs, nil
	case "sql":
		if ds, ok := store.(dedup.Store); ok {
			return ds, nil
		}
		logger.Warn("Storage has no dedup support, using in-memory dedup store")
		return dedup.NewMemoryStore(cfg.Dedup.ReservationTTL), nil
	default:
		return dedup.NewMemoryStore(cfg.Dedup.ReservationTTL), nil
	}
}

func newOffTopicDetector(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*detector.OffTopic, func(), error) {
	if cfg.Analysis.Provider == "gemini" {
		analyzer, err := classifier.NewGeminiTopicAnalyzer(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, logger)
		if err != nil {
			return nil, nil, err
		}
		return detector.NewOffTopic(analyzer, logger), func() { analyzer.Close() }, nil
	}

	analyzer := classifier.NewGPTTopicAnalyzer(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)
	return detector.NewOffTopic(analyzer, logger), func() {}, nil
}
