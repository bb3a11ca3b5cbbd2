// Package speech greets recognized people through a text-to-speech
// capability. Greetings are anti-spam filtered per identity and spoken by a
// single background consumer, because speech synthesis is serial and must
// never block the recognition path.
package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/config"
)

// Synthesizer turns text into audible output.
type Synthesizer interface {
	SynthesizeAndPlay(ctx context.Context, text string) error
	// Cleanup removes transient audio artifacts, best effort.
	Cleanup()
}

// Announcer queues greeting messages for asynchronous speech output.
type Announcer struct {
	synth        Synthesizer
	cfg          config.AudioConfig
	unknownLabel string
	log          *slog.Logger

	mu          sync.Mutex
	lastGreeted map[string]time.Time

	queue  chan string
	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// New creates an Announcer and starts its speech consumer. unknownLabel is
// the identity label used for unrecognized faces.
func New(synth Synthesizer, cfg config.AudioConfig, unknownLabel string, log *slog.Logger) *Announcer {
	if log == nil {
		log = slog.Default()
	}
	a := &Announcer{
		synth:        synth,
		cfg:          cfg,
		unknownLabel: unknownLabel,
		log:          log,
		lastGreeted:  make(map[string]time.Time),
		queue:        make(chan string, 16),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		now:          time.Now,
	}
	go a.consume()
	return a
}

// consume is the single speech worker. Synthesis runs one message at a time
// so the non-thread-safe speech backend is never entered concurrently.
func (a *Announcer) consume() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case text := <-a.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.synth.SynthesizeAndPlay(ctx, text); err != nil {
				a.log.Error("failed to speak message", "error", err)
			}
			cancel()
		}
	}
}

// Speak queues a message for asynchronous speech. It never blocks: when the
// queue is full the message is dropped and false is returned.
func (a *Announcer) Speak(text string) bool {
	select {
	case a.queue <- text:
		a.log.Debug("message queued", "text", text)
		return true
	default:
		a.log.Warn("speech queue full, dropping message", "text", text)
		return false
	}
}

// Greet queues a welcome or goodbye message for the identity, applying the
// per-identity anti-spam window. It returns true when a greeting was queued.
// An unknown identity with no configured unknown message is always
// suppressed.
func (a *Announcer) Greet(name string, isLeaving bool) bool {
	if name == a.unknownLabel && a.cfg.UnknownMessage == "" {
		return false
	}

	a.mu.Lock()
	now := a.now()
	if last, ok := a.lastGreeted[name]; ok {
		if since := now.Sub(last); since < a.cfg.GreetingWindow() {
			a.mu.Unlock()
			a.log.Debug("skipping greeting", "identity", name, "since", since)
			return false
		}
	}
	a.mu.Unlock()

	var message string
	switch {
	case name == a.unknownLabel:
		message = a.cfg.UnknownMessage
	case isLeaving:
		message = renderTemplate(a.cfg.GoodbyeMessage, name)
	default:
		message = renderTemplate(a.cfg.WelcomeMessage, name)
	}

	// The anti-spam window is only armed when the message actually made it
	// onto the queue; a dropped greeting may be retried on the next sighting.
	if !a.Speak(message) {
		return false
	}

	a.mu.Lock()
	a.lastGreeted[name] = now
	a.mu.Unlock()

	a.log.Info("greeting queued", "identity", name, "message", message)
	return true
}

// renderTemplate substitutes the identity into a greeting template.
func renderTemplate(tpl, name string) string {
	return strings.ReplaceAll(tpl, "{name}", name)
}

// Close stops the speech consumer with a bounded join and cleans up any
// transient audio artifacts.
func (a *Announcer) Close() {
	select {
	case <-a.stopCh:
		return // already closed
	default:
		close(a.stopCh)
	}

	select {
	case <-a.doneCh:
	case <-time.After(2 * time.Second):
		a.log.Warn("speech consumer did not stop in time")
	}

	a.synth.Cleanup()
	a.log.Info("announcer closed")
}
