package speech

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/config"
)

// fakeSynth records spoken messages.
type fakeSynth struct {
	mu     sync.Mutex
	spoken []string
	clean  bool
}

func (f *fakeSynth) SynthesizeAndPlay(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeSynth) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clean = true
}

func (f *fakeSynth) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func (f *fakeSynth) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msgs := f.messages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d spoken messages, got %v", n, f.messages())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		WelcomeMessage:  "Hi {name}, welcome to work",
		GoodbyeMessage:  "Goodbye {name}, see you tomorrow",
		GreetingTimeout: 60,
	}
}

func newTestAnnouncer(t *testing.T, cfg config.AudioConfig) (*Announcer, *fakeSynth, *time.Time) {
	t.Helper()
	synth := &fakeSynth{}
	a := New(synth, cfg, "Unknown", nil)
	t.Cleanup(a.Close)

	now := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, synth, &now
}

func TestGreetWelcomeAndGoodbye(t *testing.T) {
	a, synth, _ := newTestAnnouncer(t, testAudioConfig())

	if !a.Greet("Alice", false) {
		t.Fatal("first greeting should be queued")
	}
	if !a.Greet("Bob", true) {
		t.Fatal("goodbye greeting should be queued")
	}

	msgs := synth.waitFor(t, 2)
	if msgs[0] != "Hi Alice, welcome to work" {
		t.Errorf("welcome = %q", msgs[0])
	}
	if msgs[1] != "Goodbye Bob, see you tomorrow" {
		t.Errorf("goodbye = %q", msgs[1])
	}
}

func TestGreetAntiSpamWindow(t *testing.T) {
	a, synth, now := newTestAnnouncer(t, testAudioConfig())

	if !a.Greet("Alice", false) {
		t.Fatal("first greeting should be queued")
	}
	if a.Greet("Alice", false) {
		t.Error("greeting inside the window should be suppressed")
	}

	*now = now.Add(59 * time.Second)
	if a.Greet("Alice", false) {
		t.Error("greeting at 59s should still be suppressed")
	}

	*now = now.Add(2 * time.Second)
	if !a.Greet("Alice", false) {
		t.Error("greeting past the window should be queued")
	}

	synth.waitFor(t, 2)
}

func TestGreetUnknownSuppressedWithoutMessage(t *testing.T) {
	a, _, _ := newTestAnnouncer(t, testAudioConfig())

	if a.Greet("Unknown", false) {
		t.Error("unknown face with no configured message should be suppressed")
	}
}

func TestGreetUnknownWithMessage(t *testing.T) {
	cfg := testAudioConfig()
	cfg.UnknownMessage = "Please report to reception"
	a, synth, _ := newTestAnnouncer(t, cfg)

	if !a.Greet("Unknown", false) {
		t.Fatal("unknown greeting should be queued when configured")
	}
	msgs := synth.waitFor(t, 1)
	if msgs[0] != "Please report to reception" {
		t.Errorf("unknown message = %q", msgs[0])
	}
}

func TestSpeakDropsWhenQueueFull(t *testing.T) {
	// Announcer without a started consumer would be nicer here, but the
	// consumer drains quickly; block it instead with a slow synth.
	block := make(chan struct{})
	synth := &slowSynth{release: block}
	a := New(synth, testAudioConfig(), "Unknown", nil)
	defer a.Close()

	// One message occupies the worker, then fill the queue.
	accepted := 0
	for i := 0; i < cap(a.queue)+5; i++ {
		if a.Speak("msg") {
			accepted++
		}
	}
	if len(a.queue) > cap(a.queue) {
		t.Errorf("queue over capacity: %d", len(a.queue))
	}
	// The worker holds one message, so the queue plus one fit before drops.
	if accepted > cap(a.queue)+1 {
		t.Errorf("Speak() accepted %d messages, want at most %d", accepted, cap(a.queue)+1)
	}
	if accepted == cap(a.queue)+5 {
		t.Error("Speak() reported success for dropped messages")
	}
	close(block)
}

func TestGreetDroppedWhenQueueFullCanRetry(t *testing.T) {
	block := make(chan struct{})
	synth := &slowSynth{release: block}
	a := New(synth, testAudioConfig(), "Unknown", nil)
	defer a.Close()

	now := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	// Saturate the worker and the queue so the greeting has nowhere to go.
	for i := 0; i < cap(a.queue)+2; i++ {
		a.Speak("filler")
	}
	if a.Greet("Alice", false) {
		t.Fatal("greeting should report a drop when the queue is full")
	}

	// Drain and retry within the window: the drop must not have armed the
	// anti-spam timer.
	close(block)
	deadline := time.After(2 * time.Second)
	for len(a.queue) > 0 {
		select {
		case <-deadline:
			t.Fatal("queue did not drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !a.Greet("Alice", false) {
		t.Error("greeting after a drop should be queued")
	}
}

type slowSynth struct {
	release chan struct{}
}

func (s *slowSynth) SynthesizeAndPlay(ctx context.Context, text string) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func (s *slowSynth) Cleanup() {}

func TestCloseIdempotent(t *testing.T) {
	synth := &fakeSynth{}
	a := New(synth, testAudioConfig(), "Unknown", nil)

	a.Close()
	a.Close()

	if !synth.clean {
		t.Error("Close() should run synthesizer cleanup")
	}
}

func TestRenderTemplate(t *testing.T) {
	got := renderTemplate("Hi {name}, {name} again", "Bob")
	if got != "Hi Bob, Bob again" {
		t.Errorf("renderTemplate() = %q", got)
	}
}
