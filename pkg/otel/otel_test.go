package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	shutdown()
	assert.NotNil(t, Tracer())
}

func TestMQHeaderCarrier(t *testing.T) {
	headers := map[string]interface{}{"trace_id": "abc", "count": 3}
	c := NewMQHeaderCarrier(headers)

	assert.Equal(t, "abc", c.Get("trace_id"))
	assert.Equal(t, "", c.Get("count"))
	assert.Equal(t, "", c.Get("missing"))

	c.Set("traceparent", "00-x")
	assert.Equal(t, "00-x", headers["traceparent"])
	assert.ElementsMatch(t, []string{"trace_id", "count", "traceparent"}, c.Keys())

	assert.NotNil(t, NewMQHeaderCarrier(nil).headers)
}

func TestWithDBSpan(t *testing.T) {
	errDB := errors.New("db down")
	assert.NoError(t, WithDBSpan(context.Background(), "select", "SELECT 1", func(context.Context) error { return nil }))
	assert.ErrorIs(t, WithDBSpan(context.Background(), "select", "SELECT 1", func(context.Context) error { return pgx.ErrNoRows }), pgx.ErrNoRows)
	assert.ErrorIs(t, WithDBSpan(context.Background(), "select", "SELECT 1", func(context.Context) error { return errDB }), errDB)
}

func TestGinMiddlewarePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
