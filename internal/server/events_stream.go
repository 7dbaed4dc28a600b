package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/bus"
)

// handleEnrichmentStream implements GET /enrichment/status/<id>/stream
// (spec.md §6.1, §6.4): a Server-Sent-Events feed of progress for one
// job_id. A subscriber that joins after the job reached a terminal state
// still receives that terminal event once, via Bus.Subscribe's replay, so
// polling in late doesn't hang forever.
func (s *Server) handleEnrichmentStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, apperr.Validation("id is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apperr.Internal("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.bus.Subscribe(id)
	defer cancel()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	writeEvent := func(name string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to encode stream event")
			return
		}
		w.Write([]byte("event: " + name + "\n"))
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	writeEvent("job:status", map[string]any{"job_id": id})

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			writeEvent(streamEventName(ev), ev)
			if ev.Type == bus.EventCompleted || ev.Type == bus.EventFailed {
				return
			}
		case <-heartbeat.C:
			writeEvent("job:active", map[string]any{"job_id": id})
		}
	}
}

func streamEventName(ev bus.Event) string {
	switch ev.Type {
	case bus.EventCompleted:
		return "job:completed"
	case bus.EventFailed:
		return "job:failed"
	default:
		return "job:progress"
	}
}
