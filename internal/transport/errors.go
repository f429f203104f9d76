package transport

import (
	"fmt"
)

// 传输层错误定义
var (
	ErrConnClosed        = NewTpError(1001, "Connection is closed", "")
	ErrProtocolMismatch  = NewTpError(1002, "Subprotocol not accepted", "graph-2.0.0")
	ErrFrameTooLarge     = NewTpError(1003, "Frame too large", "")
	ErrUnexpectedFrame   = NewTpError(1004, "Unexpected frame type", "")
	ErrHandshakeRejected = NewTpError(1005, "Handshake rejected", "")
)

type tpError struct {
	code    int
	msg     string
	context string
}

func (e *tpError) Error() string {
	if e.context != "" {
		return fmt.Sprintf("Error %d: %s (context: %s)", e.code, e.msg, e.context)
	}
	return fmt.Sprintf("Error %d: %s", e.code, e.msg)
}

func (e *tpError) Code() int { return e.code }

func NewTpError(code int, message string, context string) *tpError {
	return &tpError{
		code:    code,
		msg:     message,
		context: context,
	}
}
