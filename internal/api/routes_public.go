package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/lobbymaster/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lobbymaster",
		"version": s.build.Version,
	})
}

// handleInfo describes the process, its host and the coordinator settings.
func (s *Server) handleInfo(c *gin.Context) {
	m := s.cfg.GetMaster()
	resp := gin.H{
		"version":    s.build.Version,
		"session":    s.build.Session,
		"started_at": s.build.StartedAt.UTC().Format(time.RFC3339),
		"uptime_sec": int64(time.Since(s.build.StartedAt).Seconds()),
		"system":     util.GetSystemInfo(),
		"master": gin.H{
			"addr":                  m.Addr(),
			"recv_buffer_bytes":     m.RecvBufferBytes,
			"retransmit_timeout_ms": m.RetransmitTimeoutMs,
			"retry_budget":          m.RetryBudget,
		},
	}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}
	c.JSON(http.StatusOK, resp)
}
