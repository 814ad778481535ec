package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"llmrouter/backend/internal/task"
)

// sink is where generated output goes.
type sink interface {
	SendChunk(id uint32, text string) error
	SendEnd(id uint32) error
}

// echo answers each task by streaming back the words of the last user
// message, at most MaxNewTokens of them.
type echo struct {
	out   sink
	delay time.Duration
	log   *zap.Logger

	mu      sync.Mutex
	running map[uint32]context.CancelFunc
}

func newEcho(out sink, delay time.Duration, log *zap.Logger) *echo {
	return &echo{out: out, delay: delay, log: log, running: make(map[uint32]context.CancelFunc)}
}

// start runs p in the background. A submission for an id that is already
// running is ignored.
func (e *echo) start(ctx context.Context, p task.Payload) bool {
	e.mu.Lock()
	if _, dup := e.running[p.ID]; dup {
		e.mu.Unlock()
		e.log.Warn("duplicate task submission ignored", zap.Uint32("task_id", p.ID))
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running[p.ID] = cancel
	e.mu.Unlock()

	e.log.Debug("task received", zap.Uint32("task_id", p.ID), zap.Int("messages", len(p.Messages)))
	go func() {
		defer e.finish(p.ID)
		if err := e.generate(ctx, p); err != nil {
			e.log.Warn("generation aborted", zap.Uint32("task_id", p.ID), zap.Error(err))
		}
	}()
	return true
}

func (e *echo) generate(ctx context.Context, p task.Payload) error {
	for i, w := range reply(p) {
		select {
		case <-ctx.Done():
			// stopped tasks end without an end-of-stream frame
			return nil
		case <-time.After(e.delay):
		}
		if i > 0 {
			w = " " + w
		}
		if err := e.out.SendChunk(p.ID, w); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return e.out.SendEnd(p.ID)
}

func (e *echo) stop(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.running[id]; ok {
		cancel()
		e.log.Debug("task stopped", zap.Uint32("task_id", id))
	}
}

func (e *echo) finish(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.running[id]; ok {
		cancel()
		delete(e.running, id)
	}
}

func (e *echo) stopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.running {
		cancel()
	}
}

// reply picks the words to stream back for p.
func reply(p task.Payload) []string {
	var last string
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == "user" {
			last = p.Messages[i].Content
			break
		}
	}
	words := strings.Fields(last)
	if p.MaxNewTokens > 0 && len(words) > p.MaxNewTokens {
		words = words[:p.MaxNewTokens]
	}
	return words
}
