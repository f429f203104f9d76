package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AttrID      = "ogit/_id"
	AttrType    = "ogit/_type"
	AttrInType  = "ogit/_in-type"
	AttrOutType = "ogit/_out-type"
)

// NewRequest 创建带唯一 id 的请求，nil 的 headers/body 以空对象发送
func NewRequest(t RequestType, headers, body map[string]any) *Request {
	if headers == nil {
		headers = map[string]any{}
	}
	if body == nil {
		body = map[string]any{}
	}
	return &Request{
		ID:      uuid.NewString(),
		Type:    t,
		Headers: headers,
		Body:    body,
	}
}

// NewTokenRequest pushes a refreshed credential over an open connection.
func NewTokenRequest(token string) *Request {
	r := NewRequest(ReqToken, nil, nil)
	r.Token = token
	return r
}

// NewIdentityRequest 查询当前 token 对应的身份
func NewIdentityRequest() *Request {
	return NewRequest(ReqIdentity, nil, nil)
}

// IndexQuery shapes a full-text index search.
type IndexQuery struct {
	Offset         int      // 0 means from the start
	Limit          int      // 0 means all results
	Order          []string // e.g. "ogit/_modified-on desc"
	Fields         []string
	IncludeDeleted bool
	ListMeta       bool
	Count          bool
	Extra          map[string]any // merged into the body last
}

// NewIndexQueryRequest builds a "vertices" query request.
func NewIndexQueryRequest(query string, q IndexQuery) (*Request, error) {
	if q.Offset < 0 {
		return nil, fmt.Errorf("offset must not be negative: %d", q.Offset)
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative: %d", q.Limit)
	}
	body := map[string]any{
		"query":  query,
		"offset": q.Offset,
		"limit":  -1,
	}
	if q.Limit > 0 {
		body["limit"] = q.Limit
	}
	if len(q.Order) > 0 {
		body["order"] = strings.Join(q.Order, ",")
	}
	if len(q.Fields) > 0 {
		body["fields"] = strings.Join(q.Fields, ",")
	}
	if q.IncludeDeleted {
		body["includeDeleted"] = "true"
	}
	if q.ListMeta {
		body["listMeta"] = "true"
	}
	if q.Count {
		body["count"] = "true"
	}
	for k, v := range q.Extra {
		body[k] = v
	}
	return NewRequest(ReqQuery, map[string]any{"type": "vertices"}, body), nil
}

// TypeQuery 返回按 ogit/_type 精确匹配的索引查询语句
func TypeQuery(ogitType string) string {
	return fmt.Sprintf(`+%s:"%s"`, EscapeES(AttrType), ogitType)
}

// GraphQuery shapes a gremlin traversal request.
type GraphQuery struct {
	Fields         []string
	IncludeDeleted bool
	ListMeta       bool
	Headers        map[string]string // merged into the headers last
	Body           map[string]any    // merged into the body last
}

func (q GraphQuery) headers() map[string]any {
	h := map[string]any{"type": "gremlin"}
	if q.IncludeDeleted {
		h["includeDeleted"] = "true"
	}
	if len(q.Fields) > 0 {
		h["fields"] = strings.Join(q.Fields, ",")
	}
	if q.ListMeta {
		h["listMeta"] = "true"
	}
	for k, v := range q.Headers {
		h[k] = v
	}
	return h
}

// NewGraphQueryRequest runs a gremlin query rooted at root.
func NewGraphQueryRequest(root, query string, q GraphQuery) *Request {
	body := map[string]any{
		"root":  root,
		"query": query,
	}
	for k, v := range q.Body {
		body[k] = v
	}
	return NewRequest(ReqQuery, q.headers(), body)
}

// Direction 边的方向
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// ConnectedQuery selects vertices connected to VertexID over EdgeType.
type ConnectedQuery struct {
	VertexID    string
	EdgeType    string    // empty matches any edge type
	Direction   Direction // empty means DirectionBoth
	VertexTypes []string
	Count       bool
	GraphQuery
}

// Statement renders the gremlin traversal for the query.
func (q ConnectedQuery) Statement() (string, error) {
	var edgeStep, vertexStep, filterStep string
	switch q.Direction {
	case DirectionOut:
		edgeStep, vertexStep = "outE", ".inV()"
	case DirectionIn:
		edgeStep, vertexStep = "inE", ".outV()"
	case DirectionBoth, "":
		edgeStep, vertexStep = "bothE", ".otherV()"
	default:
		return "", fmt.Errorf("unknown direction %q", q.Direction)
	}

	var sb strings.Builder
	sb.WriteString(edgeStep)
	if q.EdgeType != "" {
		fmt.Fprintf(&sb, "('%s')", q.EdgeType)
	} else {
		sb.WriteString("()")
	}

	if len(q.VertexTypes) > 0 {
		predicate := fmt.Sprintf("'%s'", q.VertexTypes[0])
		if len(q.VertexTypes) > 1 {
			quoted := make([]string, len(q.VertexTypes))
			for i, t := range q.VertexTypes {
				quoted[i] = "'" + t + "'"
			}
			predicate = "within(" + strings.Join(quoted, ",") + ")"
		}
		switch q.Direction {
		case DirectionOut:
			filterStep = fmt.Sprintf(".has('%s',%s)", AttrInType, predicate)
		case DirectionIn:
			filterStep = fmt.Sprintf(".has('%s',%s)", AttrOutType, predicate)
		default:
			filterStep = fmt.Sprintf(".hasLabel(%s)", predicate)
		}
		sb.WriteString(filterStep)
	}

	sb.WriteString(vertexStep)
	if q.Count {
		sb.WriteString(".count()")
	}
	return sb.String(), nil
}

// NewConnectedQueryRequest builds the gremlin request for q.
func NewConnectedQueryRequest(q ConnectedQuery) (*Request, error) {
	if q.VertexID == "" {
		return nil, fmt.Errorf("connected query: vertex id is required")
	}
	stmt, err := q.Statement()
	if err != nil {
		return nil, err
	}
	return NewGraphQueryRequest(q.VertexID, stmt, q.GraphQuery), nil
}

// VertexGet shapes a point-get by id.
type VertexGet struct {
	VersionID      string
	Fields         []string
	IncludeDeleted bool
	ListMeta       bool
	Headers        map[string]string
}

func NewVertexGetRequest(vertexID string, q VertexGet) *Request {
	h := map[string]any{AttrID: vertexID}
	if q.IncludeDeleted {
		h["includeDeleted"] = "true"
	}
	if q.VersionID != "" {
		h["vid"] = q.VersionID
	}
	if len(q.Fields) > 0 {
		h["fields"] = strings.Join(q.Fields, ",")
	}
	if q.ListMeta {
		h["listMeta"] = "true"
	}
	for k, v := range q.Headers {
		h[k] = v
	}
	return NewRequest(ReqVertexGet, h, nil)
}

// HistoryQuery shapes a vertex history request. Zero values are omitted.
type HistoryQuery struct {
	From     time.Time
	To       time.Time
	Offset   int
	Limit    int
	ListMeta bool
	Headers  map[string]string
}

func NewVertexHistoryRequest(vertexID string, q HistoryQuery) *Request {
	h := map[string]any{AttrID: vertexID}
	if !q.From.IsZero() {
		h["from"] = q.From.UnixMilli()
	}
	if !q.To.IsZero() {
		h["to"] = q.To.UnixMilli()
	}
	if q.Offset > 0 {
		h["offset"] = q.Offset
	}
	if q.Limit > 0 {
		h["limit"] = q.Limit
	}
	if q.ListMeta {
		h["listMeta"] = "true"
	}
	for k, v := range q.Headers {
		h[k] = v
	}
	return NewRequest(ReqVertexHistory, h, nil)
}

// TimeSeriesQuery shapes a time-series value stream request.
type TimeSeriesQuery struct {
	IncludeDeleted bool
	Headers        map[string]string
}

// NewTimeSeriesGetRequest streams values of vertexID between from and to (epoch ms).
func NewTimeSeriesGetRequest(vertexID string, from, to time.Time, q TimeSeriesQuery) *Request {
	h := map[string]any{AttrID: vertexID}
	if q.IncludeDeleted {
		h["includeDeleted"] = "true"
	}
	if !from.IsZero() {
		h["from"] = from.UnixMilli()
	}
	if !to.IsZero() {
		h["to"] = to.UnixMilli()
	}
	for k, v := range q.Headers {
		h[k] = v
	}
	return NewRequest(ReqTSValuesGet, h, nil)
}

// NewTimeSeriesAddRequest writes values to the time-series vertex vertexID.
func NewTimeSeriesAddRequest(vertexID string, values []TimeSeriesValue) *Request {
	return NewRequest(ReqTSValuesAdd, map[string]any{AttrID: vertexID}, map[string]any{"items": values})
}
