package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingID     = errors.New("response frame has no correlation id")
	ErrNotObject     = errors.New("response frame is not a JSON object")
	ErrFrameTooLarge = errors.New("response frame too large")
)

// ServerError is a per-request error reported by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph server error %s: %s", e.Code, e.Message)
	}
	return "graph server error: " + e.Message
}
