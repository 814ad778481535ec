package rpc

// 该文件定义了计算节点与路由之间 websocket 握手所需的参数以及关闭码

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"strconv"
)

// Close codes sent to a worker when its connection is refused or ended.
const (
	CloseBye           = 4000 // normal close, also used for superseded connections
	CloseMissingParams = 4001 // a handshake parameter is absent
	CloseInvalidToken  = 4002 // token does not match the configured node token
	CloseStaleConn     = 4003 // message received on a connection that was replaced
	CloseBadParams     = 4004 // max_concurrency is not a positive integer
)

// Handshake is the set of query parameters a worker connects with.
type Handshake struct {
	Token          string // shared node secret
	Model          string // capability offered by the node
	MaxConcurrency int    // maximum number of tasks the node runs at once
	Name           string // node-local name, unique per model
}

// Key is the node identity: model and name combined.
func (h Handshake) Key() string {
	return h.Model + "-" + h.Name
}

// Values renders the handshake as URL query parameters.
func (h Handshake) Values() url.Values {
	v := url.Values{}
	v.Set("token", h.Token)
	v.Set("model", h.Model)
	v.Set("max_concurrency", strconv.Itoa(h.MaxConcurrency))
	v.Set("name", h.Name)
	return v
}

// HandshakeError carries the close code a refused connection is closed with.
type HandshakeError struct {
	Code   int
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake refused (%d): %s", e.Code, e.Reason)
}

// ParseHandshake reads the handshake from the connection URL and checks it
// against the configured node token.
func ParseHandshake(q url.Values, nodeToken string) (Handshake, error) {
	h := Handshake{
		Token: q.Get("token"),
		Model: q.Get("model"),
		Name:  q.Get("name"),
	}
	rawMax := q.Get("max_concurrency")
	if h.Token == "" || h.Model == "" || h.Name == "" || rawMax == "" {
		return h, &HandshakeError{Code: CloseMissingParams, Reason: "Missing token, model, max_concurrency, or name"}
	}
	if subtle.ConstantTimeCompare([]byte(h.Token), []byte(nodeToken)) != 1 {
		return h, &HandshakeError{Code: CloseInvalidToken, Reason: "Invalid token"}
	}
	n, err := strconv.Atoi(rawMax)
	if err != nil || n <= 0 {
		return h, &HandshakeError{Code: CloseBadParams, Reason: "Invalid max_concurrency"}
	}
	h.MaxConcurrency = n
	return h, nil
}
