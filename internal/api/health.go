package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/epoch"
	"github.com/acossette/telecast/internal/session"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Catalog  string                 `json:"catalog"`
	Epoch    string                 `json:"epoch"`
	Time     string                 `json:"time"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db     *session.DB
	loader *catalog.Loader
	oracle *epoch.Oracle
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(db *session.DB, loader *catalog.Loader, oracle *epoch.Oracle) *HealthHandler {
	return &HealthHandler{db: db, loader: loader, oracle: oracle}
}

// Check handles the health check endpoint. A missing catalog or epoch
// degrades the status but keeps the process alive: playback may still be
// running on cached state.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Details: make(map[string]interface{}),
	}

	if err := h.db.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unhealthy"
		response.Details["database_error"] = err.Error()
	} else {
		response.Database = "healthy"
	}

	if h.loader.Checksum() == "" {
		response.Status = "degraded"
		response.Catalog = "not_loaded"
	} else {
		response.Catalog = "loaded"
		response.Details["catalog_version"] = h.loader.Version()
	}

	if info, ok := h.oracle.Cached(); ok {
		response.Epoch = "cached"
		response.Details["epoch_version"] = info.Version
	} else {
		response.Status = "degraded"
		response.Epoch = "unavailable"
	}

	code := http.StatusOK
	if response.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, db *session.DB, loader *catalog.Loader, oracle *epoch.Oracle) {
	handler := NewHealthHandler(db, loader, oracle)
	apiGroup.GET("/health", handler.Check)
}
