package handlers

import (
	"net/http"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/attendance"
)

// LogsHandler serves attendance records and daily summaries.
type LogsHandler struct {
	gate *attendance.Gate
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(gate *attendance.Gate) *LogsHandler {
	return &LogsHandler{gate: gate}
}

// Logs returns attendance records for a date range. Query parameters:
// start_date and end_date (2006-01-02, both default to today) and an
// optional name filter.
func (h *LogsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	today := time.Now()

	start, err := parseDateParam(r, "start_date", today)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start_date")
		return
	}
	end, err := parseDateParam(r, "end_date", today)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end_date")
		return
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, "end_date before start_date")
		return
	}

	records, err := h.gate.Events(start, end, r.URL.Query().Get("name"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read attendance records")
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"start_date": start.Format(dateLayout),
		"end_date":   end.Format(dateLayout),
		"count":      len(records),
		"records":    records,
	})
}

// DailySummary returns per-person first-in/last-out pairs for one day.
// The date query parameter defaults to today.
func (h *LogsHandler) DailySummary(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date", time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid date")
		return
	}

	summaries, err := h.gate.DailySummary(date)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	if summaries == nil {
		summaries = []attendance.Summary{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"date":      date.Format(dateLayout),
		"summaries": summaries,
	})
}

func parseDateParam(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(dateLayout, raw)
}
