package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"llmrouter/backend/internal/task"
)

// Router -> Worker: 任务提交或停止
type Command struct {
	task.Payload
	Stop bool `json:"stop,omitempty"`
}

// EncodeSubmit serializes the full task object sent on submission.
func EncodeSubmit(p task.Payload) ([]byte, error) {
	return json.Marshal(p)
}

// EncodeStop serializes a cancellation request {"id":N,"stop":true}.
func EncodeStop(id uint32) []byte {
	return []byte(`{"id":` + strconv.FormatUint(uint64(id), 10) + `,"stop":true}`)
}

// DecodeCommand parses a router message on the worker side.
func DecodeCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("decode command: %w", err)
	}
	return c, nil
}
