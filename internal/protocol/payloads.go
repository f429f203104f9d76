package protocol

import (
	"strings"
	"time"
)

// TimeSeriesValue 时序数据点，Timestamp 为毫秒时间戳
type TimeSeriesValue struct {
	Timestamp int64 `json:"timestamp"`
	Value     any   `json:"value"`
}

// Time 返回 UTC 时间
func (v TimeSeriesValue) Time() time.Time {
	return time.UnixMilli(v.Timestamp).UTC()
}

// NewTimeSeriesValue 用 time.Time 构造时序数据点
func NewTimeSeriesValue(t time.Time, value any) TimeSeriesValue {
	return TimeSeriesValue{Timestamp: t.UnixMilli(), Value: value}
}

const esSpecial = `+-=!&|(){}[]^"~*?:\/ `

// EscapeES escapes index query syntax characters in a literal. Only the query
// reserved characters listed in esSpecial and space are escaped; digits and
// '.', ',', ';', '<' stay as they are so ids such as "ogit/Node-1.2" keep matching.
func EscapeES(literal string) string {
	var sb strings.Builder
	sb.Grow(len(literal))
	for _, r := range literal {
		if strings.ContainsRune(esSpecial, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
