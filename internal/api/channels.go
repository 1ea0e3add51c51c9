package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acossette/telecast/internal/broadcast"
	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/engine"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/timeline"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ItemResponse represents a playlist item in API responses
type ItemResponse struct {
	Index           int    `json:"index"`
	MediaID         string `json:"media_id"`
	Title           string `json:"title"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// ChannelResponse represents a channel in API responses
type ChannelResponse struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	ItemCount            int            `json:"item_count"`
	TotalDurationSeconds int64          `json:"total_duration_seconds"`
	Items                []ItemResponse `json:"items,omitempty"`
}

// ChannelListResponse represents the channel catalog
type ChannelListResponse struct {
	Channels []ChannelResponse `json:"channels"`
	Version  string            `json:"version"`
}

// PositionResponse represents a playback position in API responses
type PositionResponse struct {
	ChannelID        string  `json:"channel_id"`
	VideoIndex       int     `json:"video_index"`
	MediaID          string  `json:"media_id"`
	MediaTitle       string  `json:"media_title"`
	OffsetSeconds    float64 `json:"offset_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	NextItemIndex    int     `json:"next_item_index"`
	Manual           bool    `json:"manual"`
	ComputedAt       string  `json:"computed_at"`
}

// ManualModeRequest represents a request to toggle manual mode or jump
type ManualModeRequest struct {
	Enabled *bool      `json:"enabled,omitempty"`
	Jump    *JumpInput `json:"jump,omitempty"`
}

// JumpInput identifies a playlist item to jump to in manual mode
type JumpInput struct {
	Index    int   `json:"index" binding:"gte=0"`
	OffsetMs int64 `json:"offset_ms" binding:"gte=0"`
}

// PowerRequest represents a power state change
type PowerRequest struct {
	On bool `json:"on"`
}

// VolumeRequest represents a volume change
type VolumeRequest struct {
	Volume int  `json:"volume" binding:"gte=0,lte=100"`
	Muted  bool `json:"muted"`
}

// ChannelHandler handles channel and playback control requests
type ChannelHandler struct {
	engine *engine.Engine
}

// NewChannelHandler creates a new channel handler
func NewChannelHandler(eng *engine.Engine) *ChannelHandler {
	return &ChannelHandler{engine: eng}
}

func toChannelResponse(ch *models.Channel, includeItems bool) ChannelResponse {
	resp := ChannelResponse{
		ID:                   ch.ID,
		Name:                 ch.Name,
		ItemCount:            len(ch.Items),
		TotalDurationSeconds: ch.TotalDurationMs() / 1000,
	}
	if includeItems {
		resp.Items = make([]ItemResponse, len(ch.Items))
		for i, item := range ch.Items {
			resp.Items[i] = ItemResponse{
				Index:           i,
				MediaID:         item.MediaID,
				Title:           item.Title,
				DurationSeconds: item.Duration,
			}
		}
	}
	return resp
}

func toPositionResponse(channelID string, pos *timeline.Position, manual bool) PositionResponse {
	return PositionResponse{
		ChannelID:        channelID,
		VideoIndex:       pos.VideoIndex,
		MediaID:          pos.MediaID,
		MediaTitle:       pos.MediaTitle,
		OffsetSeconds:    pos.OffsetSeconds(),
		RemainingSeconds: pos.RemainingSeconds(),
		NextItemIndex:    pos.NextItemIndex,
		Manual:           manual,
		ComputedAt:       pos.ComputedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ListChannels handles GET /api/channels
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	channels := h.engine.Channels()

	resp := ChannelListResponse{
		Channels: make([]ChannelResponse, len(channels)),
	}
	for i, ch := range channels {
		resp.Channels[i] = toChannelResponse(ch, false)
	}
	c.JSON(http.StatusOK, resp)
}

// GetChannel handles GET /api/channels/:id
func (h *ChannelHandler) GetChannel(c *gin.Context) {
	channels := h.engine.Channels()
	id := c.Param("id")

	for _, ch := range channels {
		if ch.ID == id {
			c.JSON(http.StatusOK, toChannelResponse(ch, true))
			return
		}
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "channel_not_found",
		Message: "No channel with id " + id,
	})
}

// GetPosition handles GET /api/channels/:id/position.
// Works for any catalog channel: an untuned channel gets the stateless live
// position every viewer would see.
func (h *ChannelHandler) GetPosition(c *gin.Context) {
	id := c.Param("id")

	pos, manual, err := h.engine.Position(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrChannelNotFound), errors.Is(err, catalog.ErrNotLoaded):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "channel_not_found",
				Message: "No channel with id " + id,
			})
		case errors.Is(err, broadcast.ErrEndOfPlaylist):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "end_of_playlist",
				Message: "Manual playback reached the end of the playlist",
			})
		default:
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "position_unavailable",
				Message: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, toPositionResponse(id, pos, manual))
}

// Tune handles POST /api/tune/:id
func (h *ChannelHandler) Tune(c *gin.Context) {
	id := c.Param("id")

	err := h.engine.Tune(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrPoweredOff):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "powered_off",
				Message: "Power on before tuning",
			})
		case errors.Is(err, broadcast.ErrTuneInProgress):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "tune_in_progress",
				Message: "A tune for this channel is already running",
			})
		case errors.Is(err, catalog.ErrChannelNotFound), errors.Is(err, catalog.ErrNotLoaded):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "channel_not_found",
				Message: "No channel with id " + id,
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "tune_failed",
				Message: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel_id": id})
}

// SetManualMode handles POST /api/channels/:id/manual
func (h *ChannelHandler) SetManualMode(c *gin.Context) {
	id := c.Param("id")

	var req ManualModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}
	if req.Enabled == nil && req.Jump == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Provide enabled, jump, or both",
		})
		return
	}

	ctx := c.Request.Context()

	if req.Jump != nil {
		err := h.engine.JumpToItem(ctx, id, req.Jump.Index, req.Jump.OffsetMs)
		if err != nil {
			h.respondManualError(c, err)
			return
		}
	} else if err := h.engine.SetManualMode(ctx, id, *req.Enabled); err != nil {
		h.respondManualError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel_id": id})
}

func (h *ChannelHandler) respondManualError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrPoweredOff):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "powered_off",
			Message: "Power on before changing playback mode",
		})
	case errors.Is(err, broadcast.ErrNotInitialized):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_tuned",
			Message: "Tune the channel before changing playback mode",
		})
	case errors.Is(err, broadcast.ErrInvalidItemIndex):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_item_index",
			Message: "Item index outside playlist bounds",
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "manual_mode_failed",
			Message: err.Error(),
		})
	}
}

// SetPower handles POST /api/power
func (h *ChannelHandler) SetPower(c *gin.Context) {
	var req PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.On {
		err = h.engine.PowerOn(ctx)
	} else {
		err = h.engine.PowerOff(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "power_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"power": req.On})
}

// SetVolume handles POST /api/volume
func (h *ChannelHandler) SetVolume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.engine.SetVolume(c.Request.Context(), req.Volume, req.Muted); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "volume_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"volume": req.Volume, "muted": req.Muted})
}

// SetupChannelRoutes registers channel and playback control routes
func SetupChannelRoutes(apiGroup *gin.RouterGroup, eng *engine.Engine) {
	handler := NewChannelHandler(eng)

	apiGroup.GET("/channels", handler.ListChannels)
	apiGroup.GET("/channels/:id", handler.GetChannel)
	apiGroup.GET("/channels/:id/position", handler.GetPosition)
	apiGroup.POST("/channels/:id/manual", handler.SetManualMode)
	apiGroup.POST("/tune/:id", handler.Tune)
	apiGroup.POST("/power", handler.SetPower)
	apiGroup.POST("/volume", handler.SetVolume)
}
