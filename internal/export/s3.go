package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	KeepLocal       bool
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads what the wrapped sink rendered and reports the object URI.
type S3Sink struct {
	next   Sink
	client putObjectAPI
	cfg    S3Config
	logger *zap.Logger
}

func NewS3Sink(ctx context.Context, next Sink, cfg S3Config, logger *zap.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket: %w", models.ErrConfigurationIncomplete)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("s3 export upload enabled", zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
	return newS3Sink(next, s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger), nil
}

func newS3Sink(next Sink, client putObjectAPI, cfg S3Config, logger *zap.Logger) *S3Sink {
	return &S3Sink{next: next, client: client, cfg: cfg, logger: logger}
}

func (s *S3Sink) Render(ctx context.Context, channelID string, messages []models.Message) (Result, error) {
	res, err := s.next.Render(ctx, channelID, messages)
	if err != nil || res.Empty() {
		return res, err
	}

	f, err := os.Open(res.Location)
	if err != nil {
		return Result{}, fmt.Errorf("s3: failed to open rendered file: %w", err)
	}
	defer f.Close()

	key := path.Join(strings.Trim(s.cfg.Prefix, "/"), filepath.Base(res.Location))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(res.Location)),
	})
	if err != nil {
		return Result{}, fmt.Errorf("s3: failed to upload export: %w", err)
	}

	if !s.cfg.KeepLocal {
		if err := os.Remove(res.Location); err != nil {
			s.logger.Warn("Failed to remove local export", zap.Error(err), zap.String("path", res.Location))
		}
	}

	return Result{Location: fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key), Rows: res.Rows}, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
