// Package api is the HTTP face of the router: the streaming chat endpoint, a
// status endpoint and the mount point of the worker websocket.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"llmrouter/backend/internal/dispatch"
	"llmrouter/backend/internal/task"
)

// Dispatcher is the part of dispatch.Dispatcher the bridge relies on.
type Dispatcher interface {
	Submit(sub dispatch.Submission, user task.User) (*task.Task, error)
	Cancel(t *task.Task) bool
	Status() dispatch.Status
}

type Options struct {
	DefaultModel        string
	DefaultSystemPrompt string
	Users               map[string]task.User // keyed by bearer token
}

type handler struct {
	d    Dispatcher
	opts Options
	log  *zap.Logger
}

// NewRouter wires the chat and status endpoints and mounts nodes on /ws.
func NewRouter(d Dispatcher, nodes http.Handler, opts Options, log *zap.Logger) *gin.Engine {
	log = log.Named("api")
	h := &handler{d: d, opts: opts, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if nodes != nil {
		r.GET("/ws", gin.WrapH(nodes))
	}

	g := r.Group("/api")
	g.OPTIONS("/chat", cors, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	g.POST("/chat", cors, h.auth, h.chat)
	g.GET("/nodes", h.auth, h.nodes)
	return r
}

func (h *handler) nodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.Status())
}
