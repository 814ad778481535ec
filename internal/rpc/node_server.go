package rpc

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub receives the lifecycle and traffic of node connections.
type Hub interface {
	ConnectNode(hs Handshake, conn Conn)
	HandleMessage(hs Handshake, conn Conn, binary bool, data []byte)
	HandleClose(hs Handshake, conn Conn, err error)
}

type ServerOptions struct {
	NodeToken    string
	SendQueue    int
	WriteTimeout time.Duration
	ReadLimit    int64
}

// Server accepts worker websocket connections on the node endpoint.
type Server struct {
	hub      Hub
	opts     ServerOptions
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(hub Hub, opts ServerOptions, log *zap.Logger) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	return &Server{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.Named("ws"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	hs, err := ParseHandshake(r.URL.Query(), s.opts.NodeToken)
	if err != nil {
		code := CloseMissingParams
		var herr *HandshakeError
		if errors.As(err, &herr) {
			code = herr.Code
		}
		s.log.Warn("node handshake refused",
			zap.String("model", hs.Model), zap.String("name", hs.Name), zap.Error(err))
		msg := websocket.FormatCloseMessage(code, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	log := s.log.With(zap.String("node", hs.Key()))
	sess := newSession(conn, s.opts.SendQueue, s.opts.WriteTimeout, log)
	conn.SetReadLimit(s.opts.ReadLimit)
	conn.SetPingHandler(func(appData string) error {
		s.hub.HandleMessage(hs, sess, false, nil)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	log.Info("node connection accepted", zap.Int("max_concurrency", hs.MaxConcurrency))
	s.hub.ConnectNode(hs, sess)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.hub.HandleClose(hs, sess, err)
			_ = sess.Close(CloseBye, "Bye")
			return
		}
		s.hub.HandleMessage(hs, sess, mt == websocket.BinaryMessage, data)
	}
}
