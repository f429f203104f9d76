package rest

import (
	"fmt"
	"strings"
)

const validationFailed = "validation failed"

// ClientError 4xx 响应。Warnings/Errors 仅在 ontology 校验失败时出现
type ClientError struct {
	Status   int
	Message  string
	Warnings []string
	Errors   []string
}

func (e *ClientError) Error() string {
	if e.IsValidation() {
		return fmt.Sprintf("graph client error %d: %s: %s", e.Status, e.Message, strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("graph client error %d: %s", e.Status, e.Message)
}

// IsValidation reports whether the server rejected the payload in its ontology validator.
func (e *ClientError) IsValidation() bool {
	return e.Message == validationFailed && (e.Errors != nil || e.Warnings != nil)
}

// ServerError 5xx 响应
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("graph server error %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Result  *struct {
			Warnings []string `json:"warnings"`
			Errors   []string `json:"errors"`
		} `json:"result"`
	} `json:"error"`
}
