package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/pkg/circuitbreaker"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
}

// sentRequest 上游收到的请求体
type sentRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    *float64  `json:"temperature"`
	MaxTokens      int       `json:"max_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func newTestClient(url string, retries int) *Client {
	return NewClient(Config{
		BaseURL:        url,
		APIKey:         "test-key",
		Model:          "test-model",
		Temperature:    0.7,
		MaxTokens:      256,
		MaxRetries:     retries,
		RetryBaseDelay: time.Millisecond,
		RequestTimeout: 2 * time.Second,
		Breaker:        circuitbreaker.Config{FailureThreshold: 10},
	}, nil)
}

func TestClient_Complete(t *testing.T) {
	var got sentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatReply(`{"tasks": []}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/", 0)
	out, err := c.Complete(context.Background(), "propose_plan", []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}, true)
	require.NoError(t, err)
	assert.Equal(t, `{"tasks": []}`, out)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}, got.Messages)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.7, *got.Temperature)
	assert.Equal(t, 256, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestClient_SendsZeroTemperature(t *testing.T) {
	var got sentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Temperature: 0}, nil)
	_, err := c.Complete(context.Background(), "analyze", []Message{{Role: "user", Content: "q"}}, false)
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.0, *got.Temperature)
	assert.Nil(t, got.ResponseFormat)
}

func TestClient_RetriesAttemptTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:        srv.URL,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		RequestTimeout: 50 * time.Millisecond,
		Breaker:        circuitbreaker.Config{FailureThreshold: 10},
	}, nil)
	out, err := c.Complete(context.Background(), "analyze", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_OuterDeadlineIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(srv.URL, 3).Complete(ctx, "analyze", nil, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 3).Complete(context.Background(), "analyze", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Complete(context.Background(), "analyze", nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGenerator)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Complete(context.Background(), "analyze", nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGenerator)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Complete(context.Background(), "analyze", nil, false)
	assert.ErrorIs(t, err, model.ErrGenerator)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:        srv.URL,
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
		Breaker:        circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour},
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), "analyze", nil, false)
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), "analyze", nil, false)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.ErrorIs(t, err, model.ErrGenerator)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatReply("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL, 3).Complete(ctx, "analyze", nil, false)
	assert.ErrorIs(t, err, context.Canceled)
}
