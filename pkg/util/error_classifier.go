package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"
)

// retryable 由上游错误类型自行声明是否可重试（例如 LLM 返回 429 / 5xx）
type retryable interface {
	Retryable() bool
}

// IsRetryableError determines if an error from an outbound call is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 调用方主动取消 - 不可重试
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// deadline exceeded 来自外层 context，预算已经用完。
	// 必须在 net.Error 之前判断：context.DeadlineExceeded 本身也实现了 net.Error 且 Timeout() 为 true
	if errors.Is(err, context.DeadlineExceeded) {
		return false, "deadline_exceeded"
	}

	var r retryable
	if errors.As(err, &r) {
		if r.Retryable() {
			return true, "upstream_retryable"
		}
		return false, "upstream_rejected"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, "json_decode_error"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// URL errors（包括 http.Client 单次请求超时）- 可重试
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := strings.ToLower(err.Error())
	for _, keyword := range []string{"rate limit", "timeout", "connection reset", "temporary", "try again"} {
		if strings.Contains(errStr, keyword) {
			return true, "transient_error"
		}
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// ShouldRetry checks if another attempt is allowed; attempt is zero-based
func ShouldRetry(attempt int, maxRetries int, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return attempt < maxRetries
}
