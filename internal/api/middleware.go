package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"llmrouter/backend/internal/task"
)

const (
	requestIDHeader = "X-Request-ID"
	userKey         = "user"
)

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()

		c.Next()

		log.Info("request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user", c.GetString(userKey+".name")),
		)
	}
}

func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Next()
}

// auth resolves the bearer token to a user. Unknown tokens end the request
// with an unauthorized event line.
func (h *handler) auth(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	user, known := h.opts.Users[strings.TrimSpace(token)]
	if !ok || !known {
		c.Status(http.StatusUnauthorized)
		writeEvent(c, task.ErrorEvent(task.ReasonUnauthorized))
		c.Abort()
		return
	}
	c.Set(userKey, user)
	c.Set(userKey+".name", user.Name)
	c.Next()
}

func userFrom(c *gin.Context) task.User {
	u, _ := c.Get(userKey)
	user, _ := u.(task.User)
	return user
}
