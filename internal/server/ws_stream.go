package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/bus"
)

// handleEnrichmentWS implements GET /enrichment/status/<id>/ws
// (SPEC_FULL.md §4.G): a websocket alternative to the SSE stream for
// clients that prefer a persistent duplex connection over the bus.
// Like the SSE handler it replays a cached terminal event to a late
// subscriber via Bus.Subscribe, then relays live events until the job
// reaches a terminal state or the client disconnects.
func (s *Server) handleEnrichmentWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, apperr.Validation("id is required"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to accept websocket connection")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	events, cancel := s.bus.Subscribe(id)
	defer cancel()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	writeEvent := func(payload any) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to encode websocket event")
			return false
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return false
		}
		return true
	}

	if !writeEvent(map[string]any{"type": "job:status", "job_id": id}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		case ev := <-events:
			if !writeEvent(ev) {
				return
			}
			if ev.Type == bus.EventCompleted || ev.Type == bus.EventFailed {
				_ = conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
		case <-heartbeat.C:
			if !writeEvent(map[string]any{"type": "job:active", "job_id": id}) {
				return
			}
		}
	}
}
