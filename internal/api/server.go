package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/lesson-monitor/internal/export"
	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xaenox/lesson-monitor/internal/monitor"
	"go.uber.org/zap"
)

// Service is the part of the monitor exposed over HTTP.
type Service interface {
	RunCycle(ctx context.Context) (*monitor.CycleReport, error)
	Export(ctx context.Context, channelID string) (export.Result, error)
	UnresolvedAlerts(ctx context.Context) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, key models.DedupKey) error
	Ingest(ctx context.Context, raw models.RawMessage) error
}

type Server struct {
	router *gin.Engine
	svc    Service
	logger *zap.Logger
}

func NewServer(svc Service, jwtSecret string, logger *zap.Logger) (*Server, error) {
	if jwtSecret == "" {
		return nil, fmt.Errorf("api jwt secret: %w", models.ErrConfigurationIncomplete)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{router: router, svc: svc, logger: logger}
	s.setupRoutes(jwtSecret)
	return s, nil
}

func (s *Server) setupRoutes(jwtSecret string) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authRequired := s.router.Group("/api")
	authRequired.Use(AuthMiddleware(jwtSecret, s.logger))
	{
		authRequired.POST("/analyze", s.analyze)
		authRequired.POST("/channels/:id/export", s.exportChannel)
		authRequired.GET("/alerts", s.listAlerts)
		authRequired.POST("/alerts/resolve", s.resolveAlert)
		authRequired.POST("/messages", s.ingestMessage)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConfigurationIncomplete):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrSourceUnavailable), errors.Is(err, models.ErrDeliveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
