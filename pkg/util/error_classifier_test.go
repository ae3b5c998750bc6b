package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStatusErr struct{ code int }

func (e fakeStatusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e fakeStatusErr) Retryable() bool { return e.code == 429 || e.code >= 500 }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{not json"), &v)
	}

	cases := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), false, "context_canceled"},
		{"outer deadline", context.DeadlineExceeded, false, "deadline_exceeded"},
		{"wrapped outer deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false, "deadline_exceeded"},
		{"url error wrapping deadline", &url.Error{Op: "Post", URL: "http://x", Err: context.DeadlineExceeded}, false, "deadline_exceeded"},
		{"rate limited", fakeStatusErr{429}, true, "upstream_retryable"},
		{"server error", fmt.Errorf("wrap: %w", fakeStatusErr{503}), true, "upstream_retryable"},
		{"bad request", fakeStatusErr{400}, false, "upstream_rejected"},
		{"json syntax", syntaxErr, false, "json_decode_error"},
		{"url timeout", &url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}, true, "network_timeout"},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, true, "network_error"},
		{"transient text", errors.New("please try again later"), true, "transient_error"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, typ := IsRetryableError(tc.err)
			assert.Equal(t, tc.retryable, ok)
			assert.Equal(t, tc.errType, typ)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(0, 3, true))
	assert.True(t, ShouldRetry(2, 3, true))
	assert.False(t, ShouldRetry(3, 3, true))
	assert.False(t, ShouldRetry(0, 3, false))
}
