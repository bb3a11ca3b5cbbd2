// Package pipeline wires the camera, recognizer, attendance gate and
// announcer into the live recognition loop and exposes its results to the
// presentation layer.
package pipeline

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/attendance"
	"github.com/newaysecurity/cctv-clocking/internal/camera"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
	"github.com/newaysecurity/cctv-clocking/internal/recognize"
	"github.com/newaysecurity/cctv-clocking/internal/speech"
	"github.com/newaysecurity/cctv-clocking/internal/vision"
)

// greetedEpoch bounds repeat greetings within a session: the
// already-greeted set is cleared on this cadence regardless of the
// per-identity greeting timeout.
const greetedEpoch = 5 * time.Minute

// Event is one recognition pushed to subscribers of the pipeline.
type Event struct {
	Name       string     `json:"name"`
	Box        vision.Box `json:"box"`
	Confidence float64    `json:"confidence"`
	At         time.Time  `json:"at"`
}

// Status is a snapshot of pipeline health for the dashboard.
type Status struct {
	CameraConnected bool   `json:"camera_connected"`
	CameraRunning   bool   `json:"camera_running"`
	Identities      int    `json:"identities"`
	FramesProcessed uint64 `json:"frames_processed"`
}

// Pipeline drives frames from the camera through recognition into
// attendance records and greetings.
type Pipeline struct {
	camera     *camera.Camera
	recognizer *recognize.Recognizer
	db         *facedb.Database
	gate       *attendance.Gate
	announcer  *speech.Announcer
	log        *slog.Logger

	frameMu  sync.RWMutex
	latest   []byte // JPEG-encoded annotated frame
	latestAt time.Time

	greetedMu sync.Mutex
	greeted   map[string]struct{}

	events    chan Event
	processed atomic.Uint64

	now func() time.Time
}

// New creates a Pipeline over already-constructed components.
func New(cam *camera.Camera, rec *recognize.Recognizer, db *facedb.Database,
	gate *attendance.Gate, announcer *speech.Announcer, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		camera:     cam,
		recognizer: rec,
		db:         db,
		gate:       gate,
		announcer:  announcer,
		log:        log,
		greeted:    make(map[string]struct{}),
		events:     make(chan Event, 64),
		now:        time.Now,
	}
}

// Run processes frames until the context is cancelled or the camera stops
// permanently. A disconnected camera simply yields no frames; it never
// crashes the loop.
func (p *Pipeline) Run(ctx context.Context) {
	p.log.Info("processing loop started")
	defer p.log.Info("processing loop stopped")

	frames := p.camera.Frames()
	epoch := time.NewTicker(greetedEpoch)
	defer epoch.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-epoch.C:
			p.clearGreeted()
		case frame, ok := <-frames:
			if !ok {
				p.log.Error("camera stopped, processing loop exiting")
				return
			}
			p.handleFrame(ctx, frame)
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, frame camera.Frame) {
	results, annotated := p.recognizer.Process(ctx, frame.Image, true)
	p.processed.Add(1)

	if annotated != nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: 80}); err != nil {
			p.log.Warn("failed to encode annotated frame", "error", err)
		} else {
			p.frameMu.Lock()
			p.latest = buf.Bytes()
			p.latestAt = frame.Timestamp
			p.frameMu.Unlock()
		}
	}

	now := p.now()
	for _, res := range results {
		p.publish(Event{Name: res.Name, Box: res.Box, Confidence: res.Confidence, At: now})

		if p.recognizer.Unknown(res) {
			continue
		}

		// After 16:00 or before 06:00 people are assumed to be leaving.
		isLeaving := now.Hour() >= 16 || now.Hour() < 6
		kind := attendance.ClockIn
		if isLeaving {
			kind = attendance.ClockOut
		}

		if !p.gate.LogIfNew(res.Name, kind) {
			continue
		}
		if p.markGreeted(res.Name) && p.announcer != nil {
			p.announcer.Greet(res.Name, isLeaving)
		}
	}
}

// markGreeted records the identity in the current greeting epoch and
// reports whether it was not greeted before.
func (p *Pipeline) markGreeted(name string) bool {
	p.greetedMu.Lock()
	defer p.greetedMu.Unlock()
	if _, ok := p.greeted[name]; ok {
		return false
	}
	p.greeted[name] = struct{}{}
	return true
}

func (p *Pipeline) clearGreeted() {
	p.greetedMu.Lock()
	p.greeted = make(map[string]struct{})
	p.greetedMu.Unlock()
}

// publish pushes an event to subscribers without ever blocking the loop.
func (p *Pipeline) publish(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// Recognitions returns the stream of recognition events.
func (p *Pipeline) Recognitions() <-chan Event {
	return p.events
}

// LatestFrame returns the most recent annotated frame as JPEG bytes and its
// capture time. The slice is shared read-only; callers must not modify it.
func (p *Pipeline) LatestFrame() ([]byte, time.Time) {
	p.frameMu.RLock()
	defer p.frameMu.RUnlock()
	return p.latest, p.latestAt
}

// Status reports pipeline health.
func (p *Pipeline) Status() Status {
	return Status{
		CameraConnected: p.camera.Connected(),
		CameraRunning:   p.camera.Running(),
		Identities:      p.db.Count(),
		FramesProcessed: p.processed.Load(),
	}
}
