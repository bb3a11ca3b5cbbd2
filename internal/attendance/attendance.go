// Package attendance records clock-in/clock-out events. A Gate deduplicates
// repeat recognitions per identity and event kind; interchangeable sinks
// persist the records to monthly CSV files or a remote sheet service.
package attendance

import (
	"log/slog"
	"sync"
	"time"
)

// Kind is the attendance event type.
type Kind string

const (
	ClockIn  Kind = "IN"
	ClockOut Kind = "OUT"
)

// Record is one attendance row. Date and Time are formatted strings so the
// persisted form matches the sink contract exactly.
type Record struct {
	Name string `json:"name"`
	Date string `json:"date"` // 2006-01-02
	Time string `json:"time"` // 15:04:05
	Kind Kind   `json:"event"`
}

// Sink persists attendance records. Query returns records whose date falls
// within the inclusive range, optionally filtered by name.
type Sink interface {
	Append(rec Record) error
	Query(start, end time.Time, name string) ([]Record, error)
}

// header is the first row of every sink's tabular output.
var header = []string{"Name", "Date", "Time", "Event"}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Gate suppresses repeat events for the same identity and kind inside the
// dedup window. A suppressed event is not written; an accepted event is
// written through the sink and its timestamp recorded only when the write
// succeeds.
type Gate struct {
	sink   Sink
	window time.Duration
	log    *slog.Logger

	mu   sync.Mutex
	last map[string]map[Kind]time.Time

	now func() time.Time
}

// NewGate creates a Gate writing through sink with the given dedup window.
func NewGate(sink Sink, window time.Duration, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		sink:   sink,
		window: window,
		log:    log,
		last:   make(map[string]map[Kind]time.Time),
		now:    time.Now,
	}
}

// LogIfNew writes an attendance event unless the same identity and kind was
// logged inside the dedup window. It returns true when the event was
// written. The check, the write-through and the timestamp update happen
// under one lock, so concurrent calls for the same identity agree on the
// "already handled" decision.
func (g *Gate) LogIfNew(name string, kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if byKind, ok := g.last[name]; ok {
		if at, ok := byKind[kind]; ok && now.Sub(at) < g.window {
			g.log.Debug("skipping duplicate event",
				"identity", name, "kind", kind, "since", now.Sub(at))
			return false
		}
	}

	rec := Record{
		Name: name,
		Date: now.Format(dateLayout),
		Time: now.Format(timeLayout),
		Kind: kind,
	}
	if err := g.sink.Append(rec); err != nil {
		g.log.Error("failed to write attendance record",
			"identity", name, "kind", kind, "error", err)
		return false
	}

	if g.last[name] == nil {
		g.last[name] = make(map[Kind]time.Time)
	}
	g.last[name][kind] = now
	g.log.Info("attendance event logged", "identity", name, "kind", kind,
		"date", rec.Date, "time", rec.Time)
	return true
}

// Events queries the underlying sink.
func (g *Gate) Events(start, end time.Time, name string) ([]Record, error) {
	return g.sink.Query(start, end, name)
}

// Summary is one row of a daily attendance summary.
type Summary struct {
	Name     string `json:"name"`
	FirstIn  string `json:"first_in"`
	LastOut  string `json:"last_out"`
	Duration string `json:"duration"`
}

// DailySummary pairs the first clock-in with the last clock-out per person
// for one day.
func (g *Gate) DailySummary(date time.Time) ([]Summary, error) {
	records, err := g.sink.Query(date, date, "")
	if err != nil {
		return nil, err
	}

	type dayTimes struct {
		firstIn time.Time
		lastOut time.Time
	}
	byName := make(map[string]*dayTimes)
	var order []string

	for _, rec := range records {
		at, err := time.Parse(dateLayout+" "+timeLayout, rec.Date+" "+rec.Time)
		if err != nil {
			continue
		}
		dt, ok := byName[rec.Name]
		if !ok {
			dt = &dayTimes{}
			byName[rec.Name] = dt
			order = append(order, rec.Name)
		}
		switch rec.Kind {
		case ClockIn:
			if dt.firstIn.IsZero() || at.Before(dt.firstIn) {
				dt.firstIn = at
			}
		case ClockOut:
			if at.After(dt.lastOut) {
				dt.lastOut = at
			}
		}
	}

	summaries := make([]Summary, 0, len(order))
	for _, name := range order {
		dt := byName[name]
		s := Summary{Name: name, FirstIn: "N/A", LastOut: "N/A", Duration: "N/A"}
		if !dt.firstIn.IsZero() {
			s.FirstIn = dt.firstIn.Format(timeLayout)
		}
		if !dt.lastOut.IsZero() {
			s.LastOut = dt.lastOut.Format(timeLayout)
		}
		if !dt.firstIn.IsZero() && dt.lastOut.After(dt.firstIn) {
			s.Duration = dt.lastOut.Sub(dt.firstIn).String()
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
