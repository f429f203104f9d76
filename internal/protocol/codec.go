package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const ApplicationJson = "application/json"

// MessageCodec 请求/响应帧的编解码器
type MessageCodec interface {
	ContentType() string
	Encode(w io.Writer, r *Request) error
	Decode(r io.Reader, maxSize int) (Response, error)
}

type JSONCodec struct{}

func (JSONCodec) ContentType() string { return ApplicationJson }

// Encode writes the request as one JSON object. Map keys are emitted sorted, so equal
// requests always encode to equal bytes.
func (JSONCodec) Encode(w io.Writer, r *Request) error {
	if r == nil {
		return fmt.Errorf("encode: nil request")
	}
	if r.ID == "" {
		return fmt.Errorf("encode: request has no id")
	}
	out := *r
	if out.Headers == nil {
		out.Headers = map[string]any{}
	}
	if out.Body == nil {
		out.Body = map[string]any{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(&out)
}

// Decode classifies one inbound frame. The error member is checked first, then multi
// selects between SingleResponse and ChunkResponse.
func (JSONCodec) Decode(r io.Reader, maxSize int) (Response, error) {
	rr := r
	if maxSize > 0 {
		rr = io.LimitReader(r, int64(maxSize)+1)
	}
	data, err := io.ReadAll(rr)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && len(data) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, maxSize)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var w wireResponse
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if w.Error != nil {
		serr := &ServerError{Code: string(w.Error.Code), Message: w.Error.Message}
		if serr.Message == "" {
			serr.Message = string(trimmed)
		}
		if w.ID == nil {
			return nil, fmt.Errorf("%w: %w", ErrMissingID, serr)
		}
		return &ErrorResponse{ID: *w.ID, Code: serr.Code, Message: serr.Message}, nil
	}
	if w.ID == nil {
		return nil, ErrMissingID
	}

	body := w.Body
	if isNull(body) {
		body = nil
	}
	if !w.Multi {
		return &SingleResponse{ID: *w.ID, Body: body, More: w.More}, nil
	}
	return &ChunkResponse{ID: *w.ID, Body: body, More: w.More}, nil
}
