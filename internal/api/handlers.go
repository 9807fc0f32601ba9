package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

type cycleResponse struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Channels   int       `json:"channels"`
	Scanned    int       `json:"scanned"`
	Skipped    int       `json:"skipped"`
	Delivered  int       `json:"delivered"`
	Suppressed int       `json:"suppressed"`
	Cancelled  bool      `json:"cancelled"`
	Failures   []string  `json:"failures"`
}

func (s *Server) analyze(c *gin.Context) {
	report, err := s.svc.RunCycle(c.Request.Context())
	if err != nil {
		s.logger.Error("Analyze request failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	failures := make([]string, 0)
	for _, f := range report.Failures() {
		failures = append(failures, f.Error())
	}
	c.JSON(http.StatusOK, cycleResponse{
		ID:         report.ID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Channels:   report.Channels,
		Scanned:    report.Scanned,
		Skipped:    report.Skipped,
		Delivered:  report.Delivered,
		Suppressed: report.Suppressed,
		Cancelled:  report.Cancelled,
		Failures:   failures,
	})
}

func (s *Server) exportChannel(c *gin.Context) {
	channelID := c.Param("id")
	res, err := s.svc.Export(c.Request.Context(), channelID)
	if err != nil {
		s.logger.Error("Export request failed", zap.Error(err), zap.String("channel_id", channelID))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if res.Empty() {
		c.JSON(http.StatusOK, gin.H{"rows": 0, "message": "nothing exported"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts, err := s.svc.UnresolvedAlerts(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list alerts", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) resolveAlert(c *gin.Context) {
	var key models.DedupKey
	if err := c.ShouldBindJSON(&key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.ResolveAlert(c.Request.Context(), key); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": key.String()})
}

// ingestMessage accepts one event relayed from another chat platform.
func (s *Server) ingestMessage(c *gin.Context) {
	var raw models.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.Ingest(c.Request.Context(), raw); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message_id": raw.ID})
}
