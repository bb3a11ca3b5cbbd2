// Package camera owns the video stream connection. It produces timestamped
// frames through a bounded queue, rate-limits reads, resizes frames to the
// configured dimensions and reconnects with exponential backoff when the
// stream drops.
package camera

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/newaysecurity/cctv-clocking/internal/config"
)

// ErrNoSource is returned by Open when neither the primary stream nor the
// fallback source can be opened.
var ErrNoSource = errors.New("camera: no source available")

// Source is a capture backend. Read returns the next decoded frame; it
// should return an error when the stream is broken so the camera can
// reconnect.
type Source interface {
	Open() error
	Read() (image.Image, error)
	Close() error
}

// Camera owns the connection to a video source and runs the background
// capture loop. All exported methods are safe for concurrent use.
type Camera struct {
	cfg config.CameraConfig
	log *slog.Logger

	// newPrimary and newFallback build capture backends. They are fields so
	// tests can substitute fake sources.
	newPrimary  func() Source
	newFallback func() Source

	frameInterval time.Duration
	queue         *frameQueue

	mu          sync.Mutex
	source      Source
	lastFrame   image.Image
	lastFrameAt time.Time

	connected atomic.Bool
	running   atomic.Bool

	reconnects int // backoff attempt counter, reset on success, guarded by mu

	stopCh  chan struct{}
	doneCh  chan struct{}
	startMu sync.Mutex
}

// Option customizes a Camera.
type Option func(*Camera)

// WithSources overrides the capture backends, primarily for tests.
func WithSources(primary, fallback func() Source) Option {
	return func(c *Camera) {
		c.newPrimary = primary
		c.newFallback = fallback
	}
}

// New creates a Camera for the given configuration. The primary backend is
// an MJPEG network stream; the fallback is a local image-sequence source
// selected by fallback_index.
func New(cfg config.CameraConfig, log *slog.Logger, opts ...Option) *Camera {
	if log == nil {
		log = slog.Default()
	}

	c := &Camera{
		cfg:           cfg,
		log:           log,
		frameInterval: time.Duration(float64(time.Second) / cfg.FPSLimit),
		queue:         newFrameQueue(queueCapacity),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	c.newPrimary = func() Source {
		if cfg.URL == "" {
			return nil
		}
		return NewMJPEGSource(cfg.URL)
	}
	c.newFallback = func() Source {
		if cfg.FallbackIndex < 0 || cfg.FallbackIndex >= len(cfg.FallbackSources) {
			return nil
		}
		return NewDirSource(cfg.FallbackSources[cfg.FallbackIndex])
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open connects to the primary stream, falling back to the local source when
// the primary fails. It does not retry; retry with backoff happens inside
// the capture loop.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked()
}

func (c *Camera) openLocked() error {
	if c.source != nil {
		c.source.Close()
		c.source = nil
	}

	if src := c.newPrimary(); src != nil {
		if err := src.Open(); err == nil {
			c.log.Info("camera connected", "source", "stream", "url", c.cfg.URL)
			c.source = src
			c.connected.Store(true)
			c.reconnects = 0
			return nil
		} else {
			c.log.Warn("failed to connect to stream, trying fallback",
				"url", c.cfg.URL, "error", err)
		}
	}

	if src := c.newFallback(); src != nil {
		if err := src.Open(); err == nil {
			c.log.Info("camera connected", "source", "fallback", "index", c.cfg.FallbackIndex)
			c.source = src
			c.connected.Store(true)
			c.reconnects = 0
			return nil
		} else {
			c.log.Error("failed to open fallback source",
				"index", c.cfg.FallbackIndex, "error", err)
		}
	}

	c.connected.Store(false)
	return ErrNoSource
}

// ReadFrame reads a single frame. Calls arriving faster than the configured
// fps limit return the previously captured frame unchanged. The second
// return value is false when no frame could be read.
func (c *Camera) ReadFrame() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() || c.source == nil {
		return Frame{}, false
	}

	now := time.Now()
	if c.lastFrame != nil && now.Sub(c.lastFrameAt) < c.frameInterval {
		return Frame{Timestamp: c.lastFrameAt, Image: c.lastFrame}, true
	}

	img, err := c.source.Read()
	if err != nil {
		c.log.Warn("failed to read frame", "error", err)
		return Frame{}, false
	}

	img = c.resize(img)
	c.lastFrame = img
	c.lastFrameAt = now
	return Frame{Timestamp: now, Image: img}, true
}

// resize scales the frame to the configured dimensions. Aspect ratio is not
// preserved: the configured width and height win.
func (c *Camera) resize(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == c.cfg.FrameWidth && bounds.Dy() == c.cfg.FrameHeight {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, c.cfg.FrameWidth, c.cfg.FrameHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// Start launches the background capture loop. Calling Start while the loop
// is already running is a no-op.
func (c *Camera) Start() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.running.Load() {
		c.log.Warn("capture loop already running")
		return
	}
	c.running.Store(true)
	go c.captureLoop()
}

func (c *Camera) captureLoop() {
	defer close(c.doneCh)
	c.log.Info("capture loop started")

	// The first connection is attempted right away; backoff only applies to
	// reconnections after a failure.
	if !c.connected.Load() {
		if err := c.Open(); err != nil {
			c.log.Warn("initial connection failed", "error", err)
		}
	}

	for c.running.Load() {
		if !c.connected.Load() {
			if !c.reconnectWithBackoff() {
				c.log.Error("reconnect attempts exhausted, stopping capture loop",
					"max_attempts", c.cfg.MaxReconnectAttempts)
				c.running.Store(false)
				break
			}
			continue
		}

		frame, ok := c.ReadFrame()
		if ok {
			c.queue.Push(frame)
		} else {
			c.log.Warn("connection issue detected, will reconnect")
			c.connected.Store(false)
		}

		select {
		case <-c.stopCh:
			c.running.Store(false)
		case <-time.After(10 * time.Millisecond):
		}
	}
	c.log.Info("capture loop stopped")
}

// backoffDelay returns the wait before a reconnection attempt: the base
// interval doubled per attempt, capped, plus up to 10% uniform jitter.
func (c *Camera) backoffDelay(attempt int) time.Duration {
	backoff := c.cfg.BackoffBase() << uint(attempt)
	if limit := c.cfg.BackoffCap(); backoff > limit || backoff <= 0 {
		backoff = limit
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(backoff))
	return backoff + jitter
}

// reconnectWithBackoff waits out the backoff for the current attempt, then
// tries to reopen the source. It returns false only when the configured
// maximum number of attempts has been reached; individual failures keep the
// loop retrying. The attempt counter advances on every attempt regardless of
// outcome and resets to zero on success.
func (c *Camera) reconnectWithBackoff() bool {
	c.mu.Lock()
	attempt := c.reconnects
	c.mu.Unlock()

	if c.cfg.MaxReconnectAttempts > 0 && attempt >= c.cfg.MaxReconnectAttempts {
		return false
	}

	delay := c.backoffDelay(attempt)
	c.log.Info("attempting reconnection",
		"attempt", attempt+1,
		"max_attempts", c.cfg.MaxReconnectAttempts,
		"delay", delay)

	select {
	case <-c.stopCh:
		return true // shutting down, let the loop observe running=false
	case <-time.After(delay):
	}

	c.mu.Lock()
	c.reconnects++
	err := c.openLocked()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("reconnection attempt failed", "error", err)
	}
	return true
}

// Frames starts the capture loop if needed and returns the frame stream.
// The channel is closed when the camera stops; it is not restartable.
func (c *Camera) Frames() <-chan Frame {
	c.Start()

	out := make(chan Frame)
	go func() {
		defer close(out)
		for c.running.Load() {
			frame, ok := c.queue.Pop(time.Second)
			if !ok {
				continue
			}
			select {
			case out <- frame:
			case <-c.stopCh:
				return
			}
		}
	}()
	return out
}

// Connected reports whether a source is currently open.
func (c *Camera) Connected() bool {
	return c.connected.Load()
}

// Running reports whether the capture loop is alive. A false value after
// Start means reconnection permanently failed.
func (c *Camera) Running() bool {
	return c.running.Load()
}

// Close stops the capture loop with a bounded join and releases the source.
func (c *Camera) Close() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	wasRunning := c.running.Load()
	c.running.Store(false)
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}

	if wasRunning {
		select {
		case <-c.doneCh:
		case <-time.After(2 * time.Second):
			c.log.Warn("capture loop did not stop in time")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != nil {
		err := c.source.Close()
		c.source = nil
		c.connected.Store(false)
		if err != nil {
			return fmt.Errorf("closing source: %w", err)
		}
	}
	c.connected.Store(false)
	return nil
}
