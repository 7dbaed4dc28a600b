package server

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleLive implements GET /live: a liveness probe that only confirms the
// process is scheduling requests at all, never touching the database.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "live",
		"uptime_s": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleReady implements GET /ready: a readiness probe that additionally
// pings the database, the dependency most likely to take the service out
// of rotation.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"success": false,
				"status":  "not_ready",
				"error":   err.Error(),
			})
			return
		}
	}

	cpuPercent, ramPercent := s.systemStats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"status":      "ready",
		"cpu_percent": cpuPercent,
		"ram_percent": ramPercent,
	})
}

// handleVersion implements GET /version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"version": s.version,
	})
}

// systemStats samples CPU/RAM usage over a short window, cheap enough to
// call on every readiness probe without stalling it.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample cpu percent")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample memory stats")
		return valueOrZero(cpuPercent), 0
	}
	return valueOrZero(cpuPercent), memStat.UsedPercent
}

func valueOrZero(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
