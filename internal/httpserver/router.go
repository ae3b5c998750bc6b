package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/handler"
	"github.com/zirpo/pm-backend/pkg/otel"
	"github.com/zirpo/pm-backend/pkg/rbac"
)

// Pinger 由 *pgxpool.Pool 实现
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker 由 *mq.Publisher 实现
type ConnChecker interface {
	IsConnected() bool
}

// Readiness /readyz 检查的依赖，未使用的依赖保持 nil
type Readiness struct {
	DB    Pinger
	Redis *redis.Client
	MQ    ConnChecker
}

type Deps struct {
	Projects  *handler.ProjectHandler
	Documents *handler.DocumentHandler
	// Admin 为 nil 时不注册 outbox 管理接口
	Admin     *handler.AdminHandler
	Auth      AuthConfig
	Readiness Readiness
	Logger    *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(MetricsMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", readyHandler(deps.Readiness))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	api.Use(AuthMiddleware(deps.Auth, logger))
	{
		read := RequirePermission(rbac.PermissionReadProject)
		write := RequirePermission(rbac.PermissionWriteProject)
		recommend := RequirePermission(rbac.PermissionRecommendProject)

		api.POST("/project/create", write, deps.Projects.CreateProject)
		api.GET("/project/:id", read, deps.Projects.GetProject)
		api.GET("/projects/", read, deps.Projects.ListProjects)
		api.POST("/project/update", write, deps.Projects.UpdatePlan)
		api.POST("/project/recommend", recommend, deps.Projects.Recommend)

		if deps.Documents != nil {
			api.POST("/project/:id/documents", write, deps.Documents.UploadDocument)
			api.GET("/project/:id/documents", read, deps.Documents.ListDocuments)
			api.POST("/experimental/project/recommend", recommend, deps.Documents.RecommendWithDocuments)
			api.POST("/experimental/project/review", recommend, deps.Documents.ReviewWithDocuments)
		}

		if deps.Admin != nil {
			admin := api.Group("/admin/outbox", RequirePermission(rbac.PermissionReplayOutbox))
			admin.GET("/failed", deps.Admin.ListFailedEvents)
			admin.POST("/replay", deps.Admin.ReplayOutboxEvent)
			admin.POST("/replay-failed", deps.Admin.ReplayFailedEvents)
		}
	}

	return r
}

func readyHandler(deps Readiness) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}

		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"status": "redis_not_ready", "error": err.Error()})
				return
			}
		}

		if deps.MQ != nil && !deps.MQ.IsConnected() {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
