package rpc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the worker side of a node connection.
type Client struct {
	addr string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// Dial connects to the router's node endpoint. serverURL is the websocket
// endpoint, e.g. ws://127.0.0.1:8087/ws.
func Dial(ctx context.Context, serverURL string, hs Handshake) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	u.RawQuery = hs.Values().Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return &Client{addr: u.Host, conn: conn}, nil
}

func (cl *Client) Close() error {
	if cl.conn == nil {
		return nil
	}
	cl.mu.Lock()
	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	cl.mu.Unlock()
	return cl.conn.Close()
}

// Receive blocks for the next command from the router. Non-command messages
// are skipped.
func (cl *Client) Receive() (Command, error) {
	for {
		mt, data, err := cl.conn.ReadMessage()
		if err != nil {
			return Command{}, err
		}
		if mt != websocket.TextMessage || len(data) == 0 {
			continue
		}
		return DecodeCommand(data)
	}
}

// SendChunk streams a piece of output for task id. Empty chunks are not sent
// since they would read as end-of-stream.
func (cl *Client) SendChunk(id uint32, text string) error {
	if text == "" {
		return nil
	}
	return cl.write(websocket.BinaryMessage, EncodeFrame(id, []byte(text)))
}

// SendEnd marks the end of task id's stream.
func (cl *Client) SendEnd(id uint32) error {
	return cl.write(websocket.BinaryMessage, EncodeFrame(id, nil))
}

// Ping sends the zero-length liveness probe.
func (cl *Client) Ping() error {
	return cl.write(websocket.TextMessage, nil)
}

func (cl *Client) write(mt int, data []byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return cl.conn.WriteMessage(mt, data)
}
