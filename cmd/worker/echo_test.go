package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"llmrouter/backend/internal/task"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks map[uint32][]string
	ended  chan uint32
}

func newRecordingSink() *recordingSink {
	return &recordingSink{chunks: make(map[uint32][]string), ended: make(chan uint32, 8)}
}

func (s *recordingSink) SendChunk(id uint32, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[id] = append(s.chunks[id], text)
	return nil
}

func (s *recordingSink) SendEnd(id uint32) error {
	s.ended <- id
	return nil
}

func (s *recordingSink) get(id uint32) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chunks[id]...)
}

func TestReplyUsesLastUserMessage(t *testing.T) {
	p := task.Payload{
		MaxNewTokens: 3,
		Messages: []task.Message{
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "answer"},
			{Role: "user", Content: "one two three four"},
			{Role: "assistant", Content: "partial"},
		},
	}
	assert.Equal(t, []string{"one", "two", "three"}, reply(p))
	assert.Empty(t, reply(task.Payload{}))
}

func TestEchoStreamsThenEnds(t *testing.T) {
	out := newRecordingSink()
	e := newEcho(out, time.Millisecond, zap.NewNop())

	e.start(context.Background(), task.Payload{ID: 7, Messages: []task.Message{{Role: "user", Content: "hello there"}}})

	select {
	case id := <-out.ended:
		assert.Equal(t, uint32(7), id)
	case <-time.After(2 * time.Second):
		t.Fatal("no end of stream")
	}
	assert.Equal(t, []string{"hello", " there"}, out.get(7))
}

func TestEchoStopSuppressesEnd(t *testing.T) {
	out := newRecordingSink()
	e := newEcho(out, 20*time.Millisecond, zap.NewNop())

	e.start(context.Background(), task.Payload{ID: 9, Messages: []task.Message{{Role: "user", Content: "a b c d e f g h"}}})
	time.Sleep(30 * time.Millisecond)
	e.stop(9)

	select {
	case id := <-out.ended:
		t.Fatalf("unexpected end for %d", id)
	case <-time.After(100 * time.Millisecond):
	}
	require.Less(t, len(out.get(9)), 8)

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.running)
}

func TestEchoIgnoresDuplicateSubmission(t *testing.T) {
	out := newRecordingSink()
	e := newEcho(out, 20*time.Millisecond, zap.NewNop())
	p := task.Payload{ID: 5, Messages: []task.Message{{Role: "user", Content: "a b c d e"}}}

	require.True(t, e.start(context.Background(), p))
	assert.False(t, e.start(context.Background(), p))

	// the original generation can still be stopped
	e.stop(5)
	select {
	case id := <-out.ended:
		t.Fatalf("unexpected end for %d", id)
	case <-time.After(100 * time.Millisecond):
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.running)
}
