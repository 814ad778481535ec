package task

import (
	"strings"
	"sync/atomic"
	"time"
)

type State int32

const (
	Pending State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	}
	return "INVALID"
}

// Message is one turn of the conversation sent to the worker.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// User is the authenticated owner of a task.
type User struct {
	Name             string
	BypassModeration bool
}

// Task is one generation request and its accumulated output.
//
// Everything except the state and the output stream is guarded by the
// dispatcher lock.
type Task struct {
	ID           uint32
	Model        string
	System       string
	Messages     []Message
	Temperature  float64
	MaxNewTokens int
	CreatedAt    time.Time
	User         User

	// NodeID is the registry key of the node running the task, empty while pending.
	NodeID string

	resp      strings.Builder
	modCursor int

	state  atomic.Int32
	out    *Stream
	timers []*time.Timer
}

func New(id uint32, model string) *Task {
	t := &Task{
		ID:        id,
		Model:     model,
		CreatedAt: time.Now(),
		out:       NewStream(),
	}
	t.state.Store(int32(Pending))
	return t
}

func (t *Task) State() State {
	return State(t.state.Load())
}

// Transition moves the task from one state to another and reports whether it did.
func (t *Task) Transition(from, to State) bool {
	if to < from {
		return false
	}
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// ForceDone marks the task done from any state. It reports false if it was already done.
func (t *Task) ForceDone() bool {
	for {
		cur := t.state.Load()
		if State(cur) == Done {
			return false
		}
		if t.state.CompareAndSwap(cur, int32(Done)) {
			t.stopTimers()
			return true
		}
	}
}

// Append adds a chunk to the accumulated response and returns the new length.
func (t *Task) Append(chunk string) int {
	t.resp.WriteString(chunk)
	return t.resp.Len()
}

func (t *Task) Response() string {
	return t.resp.String()
}

func (t *Task) ModerationCursor() int {
	return t.modCursor
}

func (t *Task) SetModerationCursor(pos int) {
	t.modCursor = pos
}

// Output is the stream the request bridge reads events from.
func (t *Task) Output() *Stream {
	return t.out
}

// Emit pushes an event to the output stream.
func (t *Task) Emit(ev Event) bool {
	return t.out.Push(ev)
}

// SetTimers records the admission and completion timers so they can be stopped
// once the task is done.
func (t *Task) SetTimers(timers ...*time.Timer) {
	t.timers = append(t.timers, timers...)
	if t.State() == Done {
		t.stopTimers()
	}
}

func (t *Task) stopTimers() {
	for _, tm := range t.timers {
		tm.Stop()
	}
}

// Payload is the JSON object sent to the worker when the task is submitted.
type Payload struct {
	ID           uint32    `json:"id"`
	Model        string    `json:"model"`
	System       string    `json:"system"`
	Messages     []Message `json:"messages"`
	Temperature  float64   `json:"temperature"`
	MaxNewTokens int       `json:"max_new_tokens"`
	CreatedAt    int64     `json:"created_at"`
}

func (t *Task) Payload() Payload {
	return Payload{
		ID:           t.ID,
		Model:        t.Model,
		System:       t.System,
		Messages:     t.Messages,
		Temperature:  t.Temperature,
		MaxNewTokens: t.MaxNewTokens,
		CreatedAt:    t.CreatedAt.Unix(),
	}
}
