package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"llmrouter/backend/internal/dispatch"
	"llmrouter/backend/internal/task"
)

const (
	defaultMaxNewTokens = 50
	maxNewTokensLimit   = math.MaxInt32
)

type chatRequest struct {
	Model        string            `json:"model"`
	System       string            `json:"system"`
	Messages     []json.RawMessage `json:"messages"`
	Temperature  json.RawMessage   `json:"temperature"`
	MaxNewTokens json.RawMessage   `json:"max_new_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// parseChat turns a lenient client body into a submission. Numbers may be
// sent as strings; out of range temperatures become 0.
func (h *handler) parseChat(body []byte) (dispatch.Submission, error) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return dispatch.Submission{}, fmt.Errorf("%w: %v", dispatch.ErrInvalidRequest, err)
	}
	if req.Messages == nil {
		return dispatch.Submission{}, fmt.Errorf("%w: missing messages", dispatch.ErrInvalidRequest)
	}

	sub := dispatch.Submission{
		Model:        req.Model,
		System:       req.System,
		Messages:     make([]task.Message, 0, len(req.Messages)),
		Temperature:  lenientFloat(req.Temperature),
		MaxNewTokens: defaultMaxNewTokens,
	}
	if !(sub.Temperature > 0.01 && sub.Temperature < 0.99) {
		sub.Temperature = 0
	}
	if n := lenientFloat(req.MaxNewTokens); n >= 1 {
		sub.MaxNewTokens = int(math.Min(n, maxNewTokensLimit))
	}
	if sub.Model == "" {
		sub.Model = h.opts.DefaultModel
	}
	if sub.System == "" {
		sub.System = h.opts.DefaultSystemPrompt
	}
	for _, raw := range req.Messages {
		var m chatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return dispatch.Submission{}, fmt.Errorf("%w: %v", dispatch.ErrInvalidRequest, err)
		}
		if m.Role == "" {
			m.Role = "user"
		}
		sub.Messages = append(sub.Messages, task.Message{Role: m.Role, Content: m.Content})
	}
	return sub, nil
}

// lenientFloat accepts a JSON number or a numeric string; anything else,
// including NaN and infinities, is 0.
func lenientFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrModeration):
		return task.ReasonModeration
	case errors.Is(err, dispatch.ErrUnknownModel):
		return task.ReasonUnknownModel
	default:
		return task.ReasonInvalidRequest
	}
}

func (h *handler) chat(c *gin.Context) {
	user := userFrom(c)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn("failed to read request body", zap.Error(err))
		writeEvent(c, task.ErrorEvent(task.ReasonInvalidRequest))
		return
	}
	sub, err := h.parseChat(body)
	if err != nil {
		h.log.Info("rejected chat request", zap.String("user", user.Name), zap.Error(err))
		writeEvent(c, task.ErrorEvent(task.ReasonInvalidRequest))
		return
	}
	t, err := h.d.Submit(sub, user)
	if err != nil {
		writeEvent(c, task.ErrorEvent(reasonFor(err)))
		return
	}

	ctx := c.Request.Context()
	out := t.Output()
	for {
		ev, err := out.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.log.Info("client went away", zap.Uint32("task_id", t.ID), zap.Error(err))
			h.d.Cancel(t)
			return
		}
		if err := writeEvent(c, ev); err != nil {
			h.log.Info("failed to write event", zap.Uint32("task_id", t.ID), zap.Error(err))
			h.d.Cancel(t)
			return
		}
	}
}

// writeEvent writes one NDJSON line and flushes it to the client.
func writeEvent(c *gin.Context, ev task.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := c.Writer.Write(append(line, '\n')); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
