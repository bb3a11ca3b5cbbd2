package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/pipeline"
)

const feedBoundary = "frame"

// FeedHandler streams annotated camera frames to the dashboard.
type FeedHandler struct {
	pipeline *pipeline.Pipeline
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(p *pipeline.Pipeline) *FeedHandler {
	return &FeedHandler{pipeline: p}
}

// VideoFeed serves the annotated frames as an MJPEG stream. Each frame is
// written as one part of a multipart/x-mixed-replace response; the stream
// runs until the client disconnects.
func (h *FeedHandler) VideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+feedBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(66 * time.Millisecond) // ~15 fps
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, at := h.pipeline.LatestFrame()
		if frame == nil || !at.After(lastSent) {
			continue
		}
		lastSent = at

		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", feedBoundary, len(frame)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
