package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/pkg/circuitbreaker"
	"github.com/zirpo/pm-backend/pkg/metrics"
	"github.com/zirpo/pm-backend/pkg/otel"
	"github.com/zirpo/pm-backend/pkg/trace"
	"github.com/zirpo/pm-backend/pkg/util"
)

const (
	DefaultBaseURL = "https://api.deepseek.com/v1"
	DefaultModel   = "deepseek-reasoner"

	maxErrorBody = 2048
)

// Message 一条 chat 消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusError 上游返回非 2xx
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Retryable 429 和 5xx 可重试
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AttemptTimeoutError 单次请求超过 RequestTimeout，外层 context 仍然有效，可以重试
type AttemptTimeoutError struct {
	Timeout time.Duration
}

func (e *AttemptTimeoutError) Error() string {
	return fmt.Sprintf("llm request timed out after %s", e.Timeout)
}

func (e *AttemptTimeoutError) Retryable() bool { return true }

// Config chat completions 客户端配置
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxRetries 首次调用之外的重试次数
	MaxRetries int
	// RetryBaseDelay 第 n 次重试前等待 RetryBaseDelay * 2^n
	RetryBaseDelay time.Duration
	// RequestTimeout 单次 HTTP 请求超时
	RequestTimeout time.Duration
	Breaker        circuitbreaker.Config
}

// Completer 生成器依赖的最小接口
type Completer interface {
	Complete(ctx context.Context, operation string, messages []Message, jsonMode bool) (string, error)
}

// Client OpenAI 兼容的 chat completions 客户端，带重试和熔断。
// 重试由 Complete 自己做，SDK 内部重试关闭。
type Client struct {
	cfg    Config
	api    openai.Client
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breakerCfg := cfg.Breaker
	// 4xx（除 429）是请求本身的问题，不计入熔断
	breakerCfg.IsFailure = func(err error) bool {
		var se *StatusError
		if errors.As(err, &se) {
			return se.Retryable()
		}
		return true
	}
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("LLM circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Client{
		cfg: cfg,
		api: openai.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
			option.WithMiddleware(statusMiddleware),
		),
		cb:     circuitbreaker.NewCircuitBreaker(breakerCfg),
		logger: logger,
	}
}

// Complete 发送一次 chat completion，对可重试错误做指数退避重试
func (c *Client) Complete(ctx context.Context, operation string, messages []Message, jsonMode bool) (string, error) {
	ctx, span := otel.GeneratorSpan(ctx, operation, c.cfg.Model)
	defer span.End()

	log := c.logger.With(zap.String("operation", operation), zap.String(trace.TraceIDKey, trace.FromContext(ctx)))

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		var content string
		err := c.cb.ExecuteContext(ctx, func(ctx context.Context) error {
			var callErr error
			content, callErr = c.doRequest(ctx, operation, messages, jsonMode)
			return callErr
		})
		if err == nil {
			return content, nil
		}
		lastErr = err

		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			return "", ctx.Err()
		}

		retryable, errType := util.IsRetryableError(err)
		if !util.ShouldRetry(attempt, c.cfg.MaxRetries, retryable) {
			break
		}

		wait := c.cfg.RetryBaseDelay * time.Duration(1<<attempt)
		log.Warn("LLM call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxRetries+1),
			zap.String("error_type", errType),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	log.Error("LLM call failed", zap.Error(lastErr))
	return "", fmt.Errorf("%w: %s: %w", model.ErrGenerator, operation, lastErr)
}

func (c *Client) doRequest(ctx context.Context, operation string, messages []Message, jsonMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    toMessageParams(messages),
		Temperature: openai.Float(c.cfg.Temperature),
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var opts []option.RequestOption
	// 传播 trace_id
	if traceID := trace.FromContext(ctx); traceID != "" {
		opts = append(opts, option.WithHeader(trace.HeaderName(), traceID))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(attemptCtx, params, opts...)
	if err != nil {
		var se *StatusError
		switch {
		case errors.As(err, &se):
			metrics.RecordGeneratorLatency(operation, fmt.Sprintf("%d", se.StatusCode), time.Since(start))
		case ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			// 只有单次请求超时，外层预算还在
			metrics.RecordGeneratorLatency(operation, "timeout", time.Since(start))
			err = &AttemptTimeoutError{Timeout: c.cfg.RequestTimeout}
		default:
			metrics.RecordGeneratorLatency(operation, "error", time.Since(start))
		}
		return "", err
	}
	metrics.RecordGeneratorLatency(operation, "success", time.Since(start))

	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func toMessageParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// statusMiddleware 把非 2xx 响应转成 StatusError，不依赖上游错误体的格式
func statusMiddleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
