package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/handler"
	"github.com/zirpo/pm-backend/pkg/rbac"
	"github.com/zirpo/pm-backend/pkg/util"
)

const (
	apiKeyHeader = "X-API-Key"

	ctxRole    = "role"
	ctxSubject = "subject"
)

// AuthConfig 认证配置
type AuthConfig struct {
	Enabled bool
	// APIKeyHash X-API-Key 的 bcrypt hash；持有者视为 admin
	APIKeyHash string
	JWTSecret  string
}

// AuthMiddleware 支持 X-API-Key 和 Bearer JWT 两种方式。
// 未启用时所有请求按 admin 处理。
func AuthMiddleware(cfg AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Set(ctxRole, rbac.RoleAdmin)
			c.Next()
			return
		}

		if cfg.APIKeyHash == "" && cfg.JWTSecret == "" {
			logger.Error("Authentication enabled but no API key or JWT secret configured")
			handler.RespondError(c, http.StatusInternalServerError, handler.TypeAuthNotConfigured,
				"server authentication is not configured", "")
			return
		}

		if key := c.GetHeader(apiKeyHeader); key != "" {
			if cfg.APIKeyHash == "" {
				handler.RespondError(c, http.StatusInternalServerError, handler.TypeAuthNotConfigured,
					"API key authentication is not configured", "")
				return
			}
			if !util.CheckAPIKey(key, cfg.APIKeyHash) {
				logger.Warn("Invalid API key", zap.String("client_ip", c.ClientIP()))
				handler.RespondError(c, http.StatusUnauthorized, handler.TypeUnauthorized,
					"invalid or missing API key", "")
				return
			}
			c.Set(ctxRole, rbac.RoleAdmin)
			c.Set(ctxSubject, "api-key")
			c.Next()
			return
		}

		token := util.ExtractToken(c.GetHeader("Authorization"))
		if token == "" {
			handler.RespondError(c, http.StatusUnauthorized, handler.TypeUnauthorized,
				"invalid or missing API key", "")
			return
		}
		if cfg.JWTSecret == "" {
			handler.RespondError(c, http.StatusInternalServerError, handler.TypeAuthNotConfigured,
				"token authentication is not configured", "")
			return
		}

		claims, err := util.ParseJWT(token, cfg.JWTSecret)
		if err != nil {
			logger.Warn("Invalid token", zap.String("client_ip", c.ClientIP()), zap.Error(err))
			handler.RespondError(c, http.StatusUnauthorized, handler.TypeUnauthorized,
				"invalid token", "")
			return
		}

		c.Set(ctxRole, claims.Role)
		c.Set(ctxSubject, claims.Subject)
		c.Next()
	}
}

// RequirePermission 中间件：要求调用方角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxRole)
		if role == "" {
			handler.RespondError(c, http.StatusUnauthorized, handler.TypeUnauthorized,
				"caller not authenticated", "")
			return
		}

		if err := rbac.CheckPermission(role, permission); err != nil {
			handler.RespondError(c, http.StatusForbidden, handler.TypeForbidden,
				"permission denied", err.Error())
			return
		}

		c.Next()
	}
}
