package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/database"
)

func TestHandleLiveReportsUptimeWithoutTouchingDB(t *testing.T) {
	s := &Server{log: zerolog.Nop(), version: "test", startedAt: time.Now().Add(-5 * time.Second)}
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()

	s.handleLive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "live", body["status"])
	assert.GreaterOrEqual(t, body["uptime_s"], float64(0))
}

func TestHandleReadyReturns503WhenDatabaseUnhealthy(t *testing.T) {
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Close())

	s := &Server{log: zerolog.Nop(), db: db, startedAt: time.Now()}
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	s.handleReady(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

func TestHandleReadyReturnsOKWhenDatabaseHealthy(t *testing.T) {
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	s := &Server{log: zerolog.Nop(), db: db, startedAt: time.Now()}
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	s.handleReady(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestHandleVersionReturnsConfiguredVersion(t *testing.T) {
	s := &Server{log: zerolog.Nop(), version: "1.2.3"}
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()

	s.handleVersion(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body["version"])
}
