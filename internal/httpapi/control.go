package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleTamperReset(w http.ResponseWriter, r *http.Request) {
	prev := s.control.ResetTamper(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"previous": prev,
		"status":   s.status.Snapshot().Tamper.Status,
	})
}

// handleCooldownReset clears one zone's alert cooldown, or every zone's
// when the zone parameter is absent.
func (s *Server) handleCooldownReset(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	s.control.ResetAlertCooldown(zone)
	writeJSON(w, http.StatusOK, map[string]string{"zone": zone})
}

func (s *Server) handleBehaviorBucket(w http.ResponseWriter, r *http.Request) {
	zone := chi.URLParam(r, "zone")
	at := s.now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_time", err.Error())
			return
		}
		at = t
	}
	b, ok := s.control.BehaviorBucket(zone, at)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no behavior data for zone at that time")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zone": zone, "at": at, "bucket": b})
}
