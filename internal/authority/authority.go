// Package authority implements the development authority server: the single
// source of truth for the catalog snapshot, its checksum, and the global
// epoch. Production deployments put a real backend behind the same three
// endpoints; the engine cannot tell the difference.
package authority

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/models"
)

// Service serves the catalog snapshot and the global epoch
type Service struct {
	snapshotPath string

	mu           sync.RWMutex
	raw          []byte
	checksum     string
	version      string
	epochMs      int64
	epochVersion int
}

// New creates an authority service over a snapshot file. epochMs is the
// global timeline origin in milliseconds since the Unix epoch.
func New(snapshotPath string, epochMs int64, epochVersion int) *Service {
	if epochVersion < 1 {
		epochVersion = 1
	}
	return &Service{
		snapshotPath: snapshotPath,
		epochMs:      epochMs,
		epochVersion: epochVersion,
	}
}

// Load reads and validates the snapshot file. The raw bytes are served
// verbatim so the checksum the clients compute matches ours.
func (s *Service) Load() error {
	raw, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to read catalog snapshot: %w", err)
	}

	var snapshot models.CatalogSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("failed to parse catalog snapshot: %w", err)
	}
	if len(snapshot.Channels) == 0 {
		return fmt.Errorf("catalog snapshot contains no channels")
	}

	sum := catalog.Checksum(raw)

	s.mu.Lock()
	s.raw = raw
	s.checksum = sum
	s.version = snapshot.Version
	s.mu.Unlock()

	logger.Log.Info().
		Int("channels", len(snapshot.Channels)).
		Str("version", snapshot.Version).
		Str("checksum", sum[:12]).
		Msg("Authority catalog loaded")

	return nil
}

// ResetEpoch installs a new epoch and bumps the version. Clients notice the
// version change on their next checksum validation and flush all state.
func (s *Service) ResetEpoch(epochMs int64) models.EpochInfo {
	s.mu.Lock()
	s.epochMs = epochMs
	s.epochVersion++
	info := models.EpochInfo{Epoch: s.epochMs, Version: s.epochVersion}
	s.mu.Unlock()

	logger.Log.Warn().
		Int64("epoch_ms", info.Epoch).
		Int("version", info.Version).
		Msg("Epoch reset")

	return info
}

// Epoch returns the current epoch
func (s *Service) Epoch() models.EpochInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.EpochInfo{Epoch: s.epochMs, Version: s.epochVersion}
}

// Checksum returns the current catalog checksum
func (s *Service) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksum
}

// getCatalog handles GET /catalog
func (s *Service) getCatalog(c *gin.Context) {
	s.mu.RLock()
	raw := s.raw
	s.mu.RUnlock()

	if raw == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog not loaded"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// getChecksum handles GET /catalog/checksum
func (s *Service) getChecksum(c *gin.Context) {
	s.mu.RLock()
	info := models.ChecksumInfo{
		Checksum:     s.checksum,
		EpochVersion: s.epochVersion,
	}
	s.mu.RUnlock()

	if info.Checksum == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog not loaded"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// getEpoch handles GET /epoch
func (s *Service) getEpoch(c *gin.Context) {
	s.mu.RLock()
	info := models.EpochInfo{
		Epoch:     s.epochMs,
		Version:   s.epochVersion,
		ServerNow: time.Now().UTC().UnixMilli(),
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, info)
}

// resetEpoch handles POST /epoch/reset, a development convenience for
// exercising the global-reset path end to end
func (s *Service) resetEpoch(c *gin.Context) {
	var req struct {
		EpochMs *int64 `json:"epoch_ms,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	epochMs := time.Now().UTC().UnixMilli()
	if req.EpochMs != nil {
		epochMs = *req.EpochMs
	}

	c.JSON(http.StatusOK, s.ResetEpoch(epochMs))
}

// Router builds the authority's HTTP router
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/catalog", s.getCatalog)
	router.GET("/catalog/checksum", s.getChecksum)
	router.GET("/epoch", s.getEpoch)
	router.POST("/epoch/reset", s.resetEpoch)

	return router
}
