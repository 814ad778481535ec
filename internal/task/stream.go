package task

import (
	"context"
	"io"
	"sync"
)

// Terminal error reasons carried by Event.Err.
const (
	ReasonUnauthorized     = "unauthorized"
	ReasonUnknownModel     = "unknown model"
	ReasonInvalidRequest   = "invalid request"
	ReasonModeration       = "moderation"
	ReasonAdmissionTimeout = "timeout waiting for node"
	ReasonFinishTimeout    = "timeout waiting for finish"
	ReasonNodeGone         = "node disconnected"
)

// Moderation is attached to a moderation terminal event.
type Moderation struct {
	Suggestion string `json:"suggestion"`
}

// Event is one line of the client-facing NDJSON stream.
type Event struct {
	Output string      `json:"o,omitempty"`
	Done   bool        `json:"done,omitempty"`
	Err    string      `json:"err,omitempty"`
	Mod    *Moderation `json:"mod,omitempty"`
}

func DataEvent(chunk string) Event { return Event{Output: chunk} }

func DoneEvent() Event { return Event{Done: true} }

func ErrorEvent(reason string) Event { return Event{Err: reason} }

func ModerationEvent() Event {
	return Event{Err: ReasonModeration, Mod: &Moderation{Suggestion: "stop"}}
}

func (e Event) Terminal() bool {
	return e.Done || e.Err != ""
}

// Stream is an unbounded single-consumer queue of events. Pushes never block,
// so the dispatcher can publish while holding its lock. The first terminal
// event closes the stream; later pushes are dropped.
type Stream struct {
	mu     sync.Mutex
	events []Event
	closed bool
	notify chan struct{}
}

func NewStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

// Push appends ev and reports whether it was accepted.
func (s *Stream) Push(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.events = append(s.events, ev)
	if ev.Terminal() {
		s.closed = true
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an event is available. It returns io.EOF after the
// terminal event was consumed, or the context error.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.events) > 0 {
			ev := s.events[0]
			s.events[0] = Event{}
			s.events = s.events[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Closed reports whether a terminal event has been pushed.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
