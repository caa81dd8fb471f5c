package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/scriptflow/internal/domain/session"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptflow/internal/shared/id"
)

// Handlers serves the HTTP endpoints next to the WebSocket stream
type Handlers struct {
	manager *session.Manager
	metrics *monitoring.Metrics
	script  string
	version string
}

// NewHandlers creates HTTP handlers
func NewHandlers(manager *session.Manager, metrics *monitoring.Metrics, script, version string) *Handlers {
	return &Handlers{
		manager: manager,
		metrics: metrics,
		script:  script,
		version: version,
	}
}

// Root handles the root endpoint
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "scriptflow",
		"version": h.version,
		"script":  h.script,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"sessions":  h.manager.Count(),
		"timestamp": time.Now().Unix(),
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// ListSessions lists live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session
func (h *Handlers) GetSession(c *gin.Context) {
	sid, err := id.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := h.manager.Get(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}
