package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/pkg/outbox"
)

// 错误响应中的 type 字段
const (
	TypeNotFound          = "NotFound"
	TypeValidation        = "RequestValidationError"
	TypeInvalidPatch      = "InvalidPatch"
	TypeGeneratorTimeout  = "GeneratorTimeout"
	TypeGeneratorError    = "GeneratorError"
	TypeConflict          = "Conflict"
	TypeDuplicateRequest  = "DuplicateRequest"
	TypeUnsupportedMedia  = "UnsupportedDocument"
	TypePayloadTooLarge   = "PayloadTooLarge"
	TypeRequestCanceled   = "RequestCanceled"
	TypeInternal          = "InternalError"
	TypeUnauthorized      = "Unauthorized"
	TypeForbidden         = "Forbidden"
	TypeAuthNotConfigured = "AuthNotConfigured"
)

// ErrorBody 统一错误响应
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Type    string `json:"type"`
}

// statusClientClosedRequest 客户端断开（nginx 约定）
const statusClientClosedRequest = 499

// RespondError 写入错误响应并终止后续 handler
func RespondError(c *gin.Context, status int, errType, message, detail string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:   http.StatusText(status),
		Message: message,
		Detail:  detail,
		Type:    errType,
	})
}

// RespondValidation 请求参数校验失败
func RespondValidation(c *gin.Context, err error) {
	RespondError(c, http.StatusUnprocessableEntity, TypeValidation, "request validation failed", err.Error())
}

// classify 把领域错误映射为 HTTP 状态码和 type
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, TypeNotFound, "project not found"
	case errors.Is(err, outbox.ErrEventNotFound):
		return http.StatusNotFound, TypeNotFound, "outbox event not found"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, TypeConflict, "project was modified concurrently, reload and retry"
	case errors.Is(err, model.ErrInvalidPatch):
		return http.StatusInternalServerError, TypeInvalidPatch, "generator produced an invalid plan; the stored plan is unchanged"
	case errors.Is(err, model.ErrGeneratorTimeout):
		return http.StatusInternalServerError, TypeGeneratorTimeout, "generator timed out; the stored plan is unchanged"
	case errors.Is(err, model.ErrEmptyAnalysis), errors.Is(err, model.ErrGenerator):
		return http.StatusInternalServerError, TypeGeneratorError, "generator call failed"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, TypeRequestCanceled, "request canceled"
	default:
		return http.StatusInternalServerError, TypeInternal, "internal server error"
	}
}

// RespondDomainError 根据错误类型写入响应；5xx 记录 error 日志
func RespondDomainError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, errType, message := classify(err)

	detail := err.Error()
	if errType == TypeInternal {
		// 不向客户端暴露存储层细节
		detail = "see server logs"
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("type", errType),
		zap.Error(err),
	}
	if status >= 500 {
		logger.Error("Request failed", fields...)
	} else {
		logger.Warn("Request rejected", fields...)
	}

	RespondError(c, status, errType, message, detail)
}
