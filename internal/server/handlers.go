package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/index"
	"github.com/jengu/pricing-core/internal/queue"
)

// writeJSON writes a JSON response with the {success, ...} / {error, ...}
// envelope of spec.md §6.1.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	s.writeJSON(w, apperr.HTTPStatus(kind), map[string]any{
		"error":   string(kind),
		"message": err.Error(),
	})
}

// startEnrichmentRequest is the body of POST /enrichment/start.
type startEnrichmentRequest struct {
	PropertyID  string  `json:"property_id"`
	Location    string  `json:"location"`
	CountryCode *string `json:"country_code,omitempty"`
}

// enrichRowPayload is the msgpack-encoded payload enqueued for an
// enrich_row job; the worker side decodes the same shape.
type enrichRowPayload struct {
	PropertyID string `json:"property_id" msgpack:"property_id"`
}

// handleStartEnrichment implements POST /enrichment/start (spec.md §6.1):
// enqueues an enrich_row job with id enrich-<property_id>-<millis>.
func (s *Server) handleStartEnrichment(w http.ResponseWriter, r *http.Request) {
	var req startEnrichmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.PropertyID == "" {
		s.writeError(w, apperr.Validation("property_id is required"))
		return
	}

	if _, err := s.properties.Get(req.PropertyID); err != nil {
		s.writeError(w, err)
		return
	}

	payload, err := msgpack.Marshal(enrichRowPayload{PropertyID: req.PropertyID})
	if err != nil {
		s.writeError(w, apperr.Internal("encode job payload: %v", err))
		return
	}

	jobID := "enrich-" + req.PropertyID + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	if _, err := s.queue.Enqueue(queue.QueueEnrichment, queue.JobNameEnrichRow, payload, queue.EnqueueOptions{
		JobID:    jobID,
		Priority: queue.PriorityMedium,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job_id": jobID})
}

// handleEnrichmentStatus implements GET /enrichment/status/<id> (spec.md
// §6.1): id may be a job_id (prefix "enrich-") or a property_id.
func (s *Server) handleEnrichmentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, apperr.Validation("id is required"))
		return
	}

	var job *queue.Job
	if strings.HasPrefix(id, queue.IDPrefix(queue.JobNameEnrichRow)) {
		j, err := s.queue.Get(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		job = j
	} else {
		property, err := s.properties.Get(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		lookup, ok := s.queue.(queue.LatestForPropertyLookup)
		if ok {
			j, err := lookup.LatestForProperty(queue.QueueEnrichment, queue.JobNameEnrichRow, id)
			if err != nil {
				s.writeError(w, err)
				return
			}
			job = j
		}
		if job == nil {
			if property.EnrichmentStatus == "completed" {
				s.writeJSON(w, http.StatusOK, map[string]any{"status": "complete"})
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]any{"status": string(property.EnrichmentStatus)})
			return
		}
	}

	resp := map[string]any{"status": string(job.State), "progress": job.Progress}
	if job.LastError != nil {
		resp["error"] = *job.LastError
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleIndexLatest implements GET /neighborhood-index/<property_id>/latest.
func (s *Server) handleIndexLatest(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "property_id")
	idx, err := s.graph.Latest(propertyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if idx == nil {
		s.writeError(w, apperr.NotFound("no neighborhood index for property %q", propertyID))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "index": idx})
}

// handleIndexTrend implements GET /neighborhood-index/<property_id>/trend?days=N.
func (s *Server) handleIndexTrend(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "property_id")
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}

	trend, err := s.graph.Trend(propertyID, days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "trend": trend})
}

type recomputeIndexRequest struct {
	Price float64 `json:"price"`
	Date  string  `json:"date,omitempty"` // defaults to today
}

// handleIndexRecompute triggers an on-demand neighborhood-index snapshot
// for a single property, bypassing the index_compute cron job — used by
// callers that just changed a price and want an immediate read-back.
func (s *Server) handleIndexRecompute(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "property_id")

	var req recomputeIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.Price <= 0 {
		s.writeError(w, apperr.Validation("price must be positive"))
		return
	}
	date := req.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	if s.indexEng == nil {
		s.writeError(w, apperr.Internal("neighborhood index engine not configured"))
		return
	}

	idx, err := s.indexEng.Compute(propertyID, req.Price, date)
	if err != nil {
		if err == index.ErrInsufficientData {
			s.writeError(w, apperr.Validation("insufficient competitor data for property %q", propertyID))
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "index": idx})
}
