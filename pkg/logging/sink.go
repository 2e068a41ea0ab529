// Package logging provides the log sink the resolver, runner and
// orchestrator report through. Sinks are safe for concurrent use and emit
// every call as one complete line.
package logging

import (
	"fmt"
	"sync"
	"time"
)

type Sink interface {
	LogMessage(format string, args ...any)
	LogError(format string, args ...any)
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Event struct {
	Time    time.Time
	Level   Level
	Message string
}

// Recorder keeps every event it sees and forwards it to the wrapped sink.
type Recorder struct {
	mu     sync.Mutex
	next   Sink
	events []Event
}

func NewRecorder(next Sink) *Recorder {
	if next == nil {
		next = Discard
	}
	return &Recorder{next: next}
}

func (r *Recorder) LogMessage(format string, args ...any) {
	r.record(LevelInfo, format, args...)
}

func (r *Recorder) LogError(format string, args ...any) {
	r.record(LevelError, format, args...)
}

func (r *Recorder) record(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Time: time.Now(), Level: level, Message: msg})
	if level == LevelError {
		r.next.LogError("%s", msg)
	} else {
		r.next.LogMessage("%s", msg)
	}
}

// Events returns a copy of the recorded events in the order they were logged.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Errors() []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Level == LevelError {
			out = append(out, e)
		}
	}
	return out
}

type discard struct{}

func (discard) LogMessage(string, ...any) {}
func (discard) LogError(string, ...any)   {}

var Discard Sink = discard{}
