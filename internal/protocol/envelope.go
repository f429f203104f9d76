package protocol

import "encoding/json"

// RequestType 表示 graph websocket 支持的请求类型
type RequestType string

const (
	ReqVertexCreate  RequestType = "create"
	ReqVertexGet     RequestType = "get"
	ReqVertexUpdate  RequestType = "update"
	ReqVertexReplace RequestType = "replace"
	ReqVertexHistory RequestType = "history"
	ReqEdgeCreate    RequestType = "connect"
	ReqDelete        RequestType = "delete"
	ReqQuery         RequestType = "query"
	ReqTSValuesAdd   RequestType = "writets"
	ReqTSValuesGet   RequestType = "streamts"
	ReqBlobContent   RequestType = "getcontent"
	ReqIdentity      RequestType = "me"
	ReqToken         RequestType = "token"
)

// Request is one outbound frame. Headers and Body are sent verbatim; Token overrides the
// credential negotiated at handshake for this request only.
type Request struct {
	ID      string         `json:"id"`
	Type    RequestType    `json:"type"`
	Token   string         `json:"_TOKEN,omitempty"`
	Headers map[string]any `json:"headers"`
	Body    map[string]any `json:"body"`
}

// Response is the decoded form of an inbound frame: *ErrorResponse, *SingleResponse or
// *ChunkResponse.
type Response interface {
	RequestID() string
	isResponse()
}

// ErrorResponse 服务端针对单个请求返回的错误
type ErrorResponse struct {
	ID      string
	Code    string
	Message string
}

// SingleResponse 非分片响应。More 只用于检测协议违规：非分片响应不能有后续分片
type SingleResponse struct {
	ID   string
	Body json.RawMessage
	More bool
}

// ChunkResponse 分片响应中的一片，More=false 表示最后一片
type ChunkResponse struct {
	ID   string
	Body json.RawMessage
	More bool
}

func (r *ErrorResponse) RequestID() string  { return r.ID }
func (r *SingleResponse) RequestID() string { return r.ID }
func (r *ChunkResponse) RequestID() string  { return r.ID }

func (*ErrorResponse) isResponse()  {}
func (*SingleResponse) isResponse() {}
func (*ChunkResponse) isResponse()  {}

// Err converts the envelope into the error delivered to the caller.
func (r *ErrorResponse) Err() error {
	return &ServerError{Code: r.Code, Message: r.Message}
}

// HasBody reports whether the chunk carries a non-null body.
func (r *ChunkResponse) HasBody() bool { return !isNull(r.Body) }

// wireResponse 入站帧的 JSON 形态
type wireResponse struct {
	ID    *string         `json:"id"`
	More  bool            `json:"more"`
	Multi bool            `json:"multi"`
	Body  json.RawMessage `json:"body"`
	Error *wireError      `json:"error"`
}

type wireError struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorCode 兼容字符串与数字两种 code
type errorCode string

func (c *errorCode) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = errorCode(s)
		return nil
	}
	*c = errorCode(b)
	return nil
}

func isNull(b json.RawMessage) bool {
	return len(b) == 0 || string(b) == "null"
}
