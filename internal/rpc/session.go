package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// closeGrace bounds how long shutdown waits to write the close frame.
const closeGrace = time.Second

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn is the outbound side of a node connection as seen by the dispatcher.
// Send must not block.
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// Session wraps one worker websocket. Text messages queued with Send are
// written by a dedicated goroutine so callers never wait on the network.
type Session struct {
	conn         *websocket.Conn
	out          chan []byte
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	log          *zap.Logger
}

func newSession(conn *websocket.Conn, queueSize int, writeTimeout time.Duration, log *zap.Logger) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	s := &Session{
		conn:         conn,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          log,
	}
	go s.writeLoop()
	return s
}

func (s *Session) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close marks the session closed and returns at once. The close frame with
// code is written and the socket dropped in the background, so a peer that
// stopped reading cannot stall the caller. Only the first call has an effect.
func (s *Session) Close(code int, reason string) error {
	s.once.Do(func() {
		close(s.done)
		go s.shutdown(code, reason)
	})
	return nil
}

func (s *Session) shutdown(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		s.log.Debug("close frame not sent", zap.Error(err))
	}
	// unblocks a writeLoop stuck on the peer
	_ = s.conn.Close()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.out:
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Warn("write to node failed", zap.Error(err))
				_ = s.Close(CloseBye, "Bye")
				return
			}
		}
	}
}
