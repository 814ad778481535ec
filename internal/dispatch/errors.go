package dispatch

import (
	"errors"

	"llmrouter/backend/internal/task"
)

// Admission errors returned by Submit. Their messages are the terminal reasons
// sent to the client.
var (
	ErrModeration     = errors.New(task.ReasonModeration)
	ErrUnknownModel   = errors.New(task.ReasonUnknownModel)
	ErrInvalidRequest = errors.New(task.ReasonInvalidRequest)
)
