package httpapi

import (
	"errors"
	"net/http"
	"time"
)

var errBadRange = errors.New("bad range")

// defaultWindow is the query range when from/to are omitted.
const defaultWindow = 24 * time.Hour

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.status.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Snapshot()
	if wantsProtobuf(r) {
		msg, err := statusToStruct(st)
		if err != nil {
			s.logger.Printf("status proto error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.zones.ListZones(r.Context())
	if err != nil {
		s.logger.Printf("list zones error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": zones})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_range", err.Error())
		return
	}
	recs, err := s.events.Detections(r.Context(), from, to)
	if err != nil {
		s.logger.Printf("detections query error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "events": recs})
}

func (s *Server) handleSystemEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_range", err.Error())
		return
	}
	recs, err := s.events.SystemEvents(r.Context(), from, to)
	if err != nil {
		s.logger.Printf("system events query error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "events": recs})
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_range", err.Error())
		return
	}
	stats, err := s.events.DailyStats(r.Context(), from, to)
	if err != nil {
		s.logger.Printf("daily stats query error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "stats": stats})
}

// timeRange reads RFC 3339 from/to parameters. A missing to is now and a
// missing from is one window before to.
func (s *Server) timeRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to := s.now().UTC()
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Join(errBadRange, err)
		}
		to = t
	}
	from := to.Add(-defaultWindow)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Join(errBadRange, err)
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.Join(errBadRange, errors.New("from must be before to"))
	}
	return from, to, nil
}

// dateRange reads inclusive YYYY-MM-DD bounds, defaulting to the last
// seven UTC days.
func dateRange(r *http.Request, now time.Time) (string, string, error) {
	q := r.URL.Query()
	to := now.UTC().Format(time.DateOnly)
	if v := q.Get("to"); v != "" {
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return "", "", errors.Join(errBadRange, err)
		}
		to = v
	}
	toDay, _ := time.Parse(time.DateOnly, to)
	from := toDay.AddDate(0, 0, -6).Format(time.DateOnly)
	if v := q.Get("from"); v != "" {
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return "", "", errors.Join(errBadRange, err)
		}
		from = v
	}
	if from > to {
		return "", "", errors.Join(errBadRange, errors.New("from must not be after to"))
	}
	return from, to, nil
}
