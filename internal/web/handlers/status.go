package handlers

import (
	"net/http"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/pipeline"
)

// StatusHandler reports pipeline health to the dashboard.
type StatusHandler struct {
	pipeline *pipeline.Pipeline
	started  time.Time
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(p *pipeline.Pipeline) *StatusHandler {
	return &StatusHandler{
		pipeline: p,
		started:  time.Now(),
	}
}

// Get returns the current pipeline status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	status := h.pipeline.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"camera_connected": status.CameraConnected,
		"camera_running":   status.CameraRunning,
		"identities":       status.Identities,
		"frames_processed": status.FramesProcessed,
		"uptime_seconds":   int(time.Since(h.started).Seconds()),
	})
}
