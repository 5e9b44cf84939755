package transport

import (
	"net/http"

	"spotbot-core/internal/model"

	"github.com/gin-gonic/gin"
)

type commandRequest struct {
	Command string `json:"command" binding:"required,oneof=START_BOT STOP_BOT KILL_SWITCH"`
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": s.Engine.Status(),
		"meta":   s.Meta,
	})
}

func (s *Server) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Snapshot())
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// postCommand is the REST equivalent of the {"type":"command",...}
// push-channel message from spec.md §6, for clients that prefer plain
// HTTP over the WebSocket command path.
func (s *Server) postCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Command {
	case "START_BOT":
		s.Engine.Start()
	case "STOP_BOT":
		s.Engine.Stop(false)
	case "KILL_SWITCH":
		s.Engine.Stop(true)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": req.Command})
}

// putSettings is the REST equivalent of the {"type":"settings",...}
// push-channel message.
func (s *Server) putSettings(c *gin.Context) {
	var settings model.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Engine.UpdateSettings(c.Request.Context(), settings); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}
