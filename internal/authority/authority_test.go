package authority

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/models"
)

const testSnapshot = `{
  "version": "v1",
  "generatedAt": "2026-01-02T03:04:05Z",
  "channels": [
    {
      "id": "ch-1",
      "name": "Classics",
      "items": [
        {"mediaId": "m-1", "title": "Opening", "duration": 60},
        {"mediaId": "m-2", "title": "Feature", "duration": 120}
      ]
    }
  ]
}`

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(testSnapshot), 0o644))

	svc := New(path, time.Now().UTC().Add(-time.Hour).UnixMilli(), 1)
	require.NoError(t, svc.Load())

	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestGetCatalog_ServesSnapshotVerbatim(t *testing.T) {
	_, srv := newTestService(t)

	resp, err := http.Get(srv.URL + "/catalog")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot models.CatalogSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Equal(t, "v1", snapshot.Version)
	require.Len(t, snapshot.Channels, 1)
	assert.Equal(t, "ch-1", snapshot.Channels[0].ID)
}

func TestGetChecksum_MatchesServedBytes(t *testing.T) {
	svc, srv := newTestService(t)

	resp, err := http.Get(srv.URL + "/catalog/checksum")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	var info models.ChecksumInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))

	// Clients hash the raw bytes they fetched; both sides must agree
	assert.Equal(t, catalog.Checksum([]byte(testSnapshot)), info.Checksum)
	assert.Equal(t, svc.Checksum(), info.Checksum)
	assert.Equal(t, 1, info.EpochVersion)
}

func TestGetEpoch_IncludesServerClock(t *testing.T) {
	_, srv := newTestService(t)

	before := time.Now().UTC().UnixMilli()
	resp, err := http.Get(srv.URL + "/epoch")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	after := time.Now().UTC().UnixMilli()

	var info models.EpochInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))

	assert.Equal(t, 1, info.Version)
	assert.GreaterOrEqual(t, info.ServerNow, before)
	assert.LessOrEqual(t, info.ServerNow, after)
	assert.Less(t, info.Epoch, info.ServerNow)
}

func TestResetEpoch_BumpsVersion(t *testing.T) {
	svc, srv := newTestService(t)

	resp, err := http.Post(srv.URL+"/epoch/reset", "application/json", strings.NewReader(`{"epoch_ms": 1234567}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	var info models.EpochInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, int64(1234567), info.Epoch)
	assert.Equal(t, 2, info.Version)

	assert.Equal(t, 2, svc.Epoch().Version)
}

func TestLoad_RejectsEmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"v1","channels":[]}`), 0o644))

	svc := New(path, 0, 1)

	assert.Error(t, svc.Load())
}

func TestLoad_PicksUpEditedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(testSnapshot), 0o644))

	svc := New(path, 0, 1)
	require.NoError(t, svc.Load())
	first := svc.Checksum()

	edited := strings.Replace(testSnapshot, `"version": "v1"`, `"version": "v2"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	require.NoError(t, svc.Load())

	assert.NotEqual(t, first, svc.Checksum())
}
