package rpc

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hubEvent struct {
	kind   string
	hs     Handshake
	conn   Conn
	binary bool
	data   []byte
}

type recordingHub struct {
	events chan hubEvent
}

func newRecordingHub() *recordingHub {
	return &recordingHub{events: make(chan hubEvent, 64)}
}

func (h *recordingHub) ConnectNode(hs Handshake, conn Conn) {
	h.events <- hubEvent{kind: "connect", hs: hs, conn: conn}
}

func (h *recordingHub) HandleMessage(hs Handshake, conn Conn, binary bool, data []byte) {
	h.events <- hubEvent{kind: "message", hs: hs, conn: conn, binary: binary, data: append([]byte(nil), data...)}
}

func (h *recordingHub) HandleClose(hs Handshake, conn Conn, err error) {
	h.events <- hubEvent{kind: "close", hs: hs, conn: conn}
}

func (h *recordingHub) next(t *testing.T) hubEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub event")
	}
	return hubEvent{}
}

func startServer(t *testing.T, hub Hub) string {
	t.Helper()
	srv := NewServer(hub, ServerOptions{NodeToken: "secret", SendQueue: 8, WriteTimeout: time.Second}, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestServerRefusesBadHandshake(t *testing.T) {
	url := startServer(t, newRecordingHub())

	tests := []struct {
		name string
		hs   Handshake
		code int
	}{
		{"invalid token", Handshake{Token: "wrong", Model: "m", MaxConcurrency: 1, Name: "a"}, CloseInvalidToken},
		{"missing name", Handshake{Token: "secret", Model: "m", MaxConcurrency: 1}, CloseMissingParams},
		{"bad concurrency", Handshake{Token: "secret", Model: "m", MaxConcurrency: -1, Name: "a"}, CloseBadParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl, err := Dial(context.Background(), url, tt.hs)
			require.NoError(t, err)
			defer cl.conn.Close()

			_, err = cl.Receive()
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}

func TestServerRelaysTraffic(t *testing.T) {
	hub := newRecordingHub()
	url := startServer(t, hub)

	hs := Handshake{Token: "secret", Model: "m", MaxConcurrency: 2, Name: "a"}
	cl, err := Dial(context.Background(), url, hs)
	require.NoError(t, err)

	ev := hub.next(t)
	require.Equal(t, "connect", ev.kind)
	assert.Equal(t, "m-a", ev.hs.Key())
	assert.Equal(t, 2, ev.hs.MaxConcurrency)
	sess := ev.conn

	// router -> worker
	require.NoError(t, sess.Send(EncodeStop(5)))
	cmd, err := cl.Receive()
	require.NoError(t, err)
	assert.True(t, cmd.Stop)
	assert.Equal(t, uint32(5), cmd.ID)

	// worker -> router
	require.NoError(t, cl.Ping())
	ev = hub.next(t)
	assert.Equal(t, "message", ev.kind)
	assert.False(t, ev.binary)
	assert.Empty(t, ev.data)

	require.NoError(t, cl.SendChunk(5, "hi"))
	ev = hub.next(t)
	assert.True(t, ev.binary)
	f, err := DecodeFrame(ev.data)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(f.Payload))

	require.NoError(t, cl.SendEnd(5))
	ev = hub.next(t)
	f, err = DecodeFrame(ev.data)
	require.NoError(t, err)
	assert.True(t, f.EOS)

	require.NoError(t, cl.Close())
	ev = hub.next(t)
	assert.Equal(t, "close", ev.kind)
	assert.Equal(t, sess, ev.conn)
}

func TestSessionCloseSendsCode(t *testing.T) {
	hub := newRecordingHub()
	url := startServer(t, hub)

	cl, err := Dial(context.Background(), url, Handshake{Token: "secret", Model: "m", MaxConcurrency: 1, Name: "a"})
	require.NoError(t, err)
	defer cl.conn.Close()
	sess := hub.next(t).conn

	require.NoError(t, sess.Close(CloseStaleConn, "Invalid connection"))
	assert.ErrorIs(t, sess.Send([]byte("x")), ErrSessionClosed)

	_, err = cl.Receive()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CloseStaleConn, ce.Code)
}

func TestSessionCloseDoesNotWaitForStalledPeer(t *testing.T) {
	hub := newRecordingHub()
	srv := NewServer(hub, ServerOptions{NodeToken: "secret", SendQueue: 32}, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// the client never reads, so the server's writer blocks once buffers fill
	cl, err := Dial(context.Background(), url, Handshake{Token: "secret", Model: "m", MaxConcurrency: 1, Name: "a"})
	require.NoError(t, err)
	defer cl.conn.Close()
	sess := hub.next(t).conn

	big := []byte(strings.Repeat("x", 4<<20))
	for i := 0; i < 16; i++ {
		require.NoError(t, sess.Send(big))
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, sess.Close(CloseBye, "Bye"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.ErrorIs(t, sess.Send([]byte("x")), ErrSessionClosed)

	// the socket is dropped in the background once the close frame gives up
	assert.Eventually(t, func() bool {
		select {
		case ev := <-hub.events:
			return ev.kind == "close"
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
}
