package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acossette/telecast/internal/engine"
	"github.com/acossette/telecast/internal/status"
)

// StatusResponse represents the engine status snapshot
type StatusResponse struct {
	Power          bool           `json:"power"`
	CurrentChannel string         `json:"current_channel,omitempty"`
	Events         []status.Event `json:"events"`
}

// StatusHandler serves the status snapshot and the live status stream
type StatusHandler struct {
	engine *engine.Engine
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(eng *engine.Engine) *StatusHandler {
	return &StatusHandler{engine: eng}
}

// Snapshot handles GET /api/status
func (h *StatusHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Power:          h.engine.Powered(),
		CurrentChannel: h.engine.CurrentChannelID(),
		Events:         h.engine.Status(),
	})
}

// Stream handles GET /api/status/stream as server-sent events. The
// subscription drops events rather than blocking the engine when the client
// reads too slowly.
func (h *StatusHandler) Stream(c *gin.Context) {
	events, cancel := h.engine.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// SetupStatusRoutes registers status routes
func SetupStatusRoutes(apiGroup *gin.RouterGroup, eng *engine.Engine) {
	handler := NewStatusHandler(eng)

	apiGroup.GET("/status", handler.Snapshot)
	apiGroup.GET("/status/stream", handler.Stream)
}
