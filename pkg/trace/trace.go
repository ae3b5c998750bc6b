package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

const (
	// TraceIDKey 日志字段名 / outbox payload 字段名
	TraceIDKey = "trace_id"

	headerTraceID   = "X-Trace-ID"
	headerRequestID = "X-Request-ID"
)

// GenerateTraceID 生成一个新的 trace ID（32 位十六进制）
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// FromHeaders 从请求头中提取 trace_id，X-Trace-ID 优先，其次 X-Request-ID
func FromHeaders(get func(string) string) string {
	if v := strings.TrimSpace(get(headerTraceID)); v != "" {
		return v
	}
	return strings.TrimSpace(get(headerRequestID))
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return headerTraceID
}
