package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/internal/repository"
	"github.com/zirpo/pm-backend/pkg/logger"
)

// IdempotencyHeader 客户端提供的幂等键
const IdempotencyHeader = "Idempotency-Key"

// PlanUpdater 把自然语言更新合并进计划
type PlanUpdater interface {
	ApplyUpdate(ctx context.Context, projectID int64, updateText string) (*model.Project, error)
}

// Advisor 基于计划回答问题，不修改状态
type Advisor interface {
	Recommend(ctx context.Context, projectID int64, question string) (string, error)
}

// Deduper 幂等键去重
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, key string) bool
	Release(ctx context.Context, handler string, key string)
}

type CreateProjectRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255"`
}

type UpdatePlanRequest struct {
	ProjectID  int64  `json:"project_id" binding:"required,gt=0"`
	UpdateText string `json:"update_text" binding:"required,min=1"`
}

type RecommendRequest struct {
	ProjectID    int64  `json:"project_id" binding:"required,gt=0"`
	UserQuestion string `json:"user_question" binding:"required,min=1"`
}

type ProjectResponse struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Plan    model.Plan `json:"plan"`
	Version int64      `json:"version"`
}

type UpdatePlanResponse struct {
	ProjectID int64      `json:"project_id"`
	NewPlan   model.Plan `json:"new_plan"`
	Version   int64      `json:"version"`
}

type RecommendResponse struct {
	ProjectID              int64  `json:"project_id"`
	RecommendationMarkdown string `json:"recommendation_markdown"`
}

type ProjectHandler struct {
	store   repository.PlanStore
	updater PlanUpdater
	advisor Advisor
	dedup   Deduper
	logger  *zap.Logger
}

// NewProjectHandler dedup 可以为 nil，此时忽略 Idempotency-Key
func NewProjectHandler(store repository.PlanStore, updater PlanUpdater, advisor Advisor, dedup Deduper, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		store:   store,
		updater: updater,
		advisor: advisor,
		dedup:   dedup,
		logger:  logger,
	}
}

func toProjectResponse(p *model.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, Plan: p.Plan, Version: p.Version}
}

func (h *ProjectHandler) CreateProject(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("CreateProject: invalid request body", zap.Error(err))
		RespondValidation(c, err)
		return
	}

	log.Info("CreateProject request received",
		zap.String("name", req.Name),
		zap.String("client_ip", c.ClientIP()),
	)

	project, err := h.store.Create(c.Request.Context(), req.Name)
	if err != nil {
		RespondDomainError(c, log, "create_project", err)
		return
	}

	log.Info("CreateProject: success", zap.Int64("project_id", project.ID))
	c.JSON(http.StatusCreated, toProjectResponse(project))
}

func (h *ProjectHandler) GetProject(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	id, ok := parseProjectID(c, log)
	if !ok {
		return
	}

	project, err := h.store.Load(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, log, "get_project", err)
		return
	}

	c.JSON(http.StatusOK, toProjectResponse(project))
}

func (h *ProjectHandler) ListProjects(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	projects, err := h.store.List(c.Request.Context())
	if err != nil {
		RespondDomainError(c, log, "list_projects", err)
		return
	}

	log.Debug("ListProjects: success", zap.Int("project_count", len(projects)))
	c.JSON(http.StatusOK, projects)
}

func (h *ProjectHandler) UpdatePlan(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	var req UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("UpdatePlan: invalid request body", zap.Error(err))
		RespondValidation(c, err)
		return
	}

	log.Info("UpdatePlan request received",
		zap.Int64("project_id", req.ProjectID),
		zap.Int("update_text_len", len(req.UpdateText)),
		zap.String("client_ip", c.ClientIP()),
	)

	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if key != "" && h.dedup != nil {
		dedupKey := strconv.FormatInt(req.ProjectID, 10) + ":" + key
		if !h.dedup.AcquireOnce(ctx, "plan_update", dedupKey) {
			RespondError(c, http.StatusConflict, TypeDuplicateRequest,
				"request with this idempotency key was already processed", key)
			return
		}
		defer func() {
			// 失败的请求不改变状态，允许客户端用同一个 key 重试
			if c.Writer.Status() != http.StatusOK {
				h.dedup.Release(context.WithoutCancel(ctx), "plan_update", dedupKey)
			}
		}()
	}

	project, err := h.updater.ApplyUpdate(ctx, req.ProjectID, req.UpdateText)
	if err != nil {
		RespondDomainError(c, log, "update_plan", err)
		return
	}

	log.Info("UpdatePlan: success",
		zap.Int64("project_id", project.ID),
		zap.Int64("version", project.Version),
	)
	c.JSON(http.StatusOK, UpdatePlanResponse{
		ProjectID: project.ID,
		NewPlan:   project.Plan,
		Version:   project.Version,
	})
}

func (h *ProjectHandler) Recommend(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Recommend: invalid request body", zap.Error(err))
		RespondValidation(c, err)
		return
	}

	log.Info("Recommend request received",
		zap.Int64("project_id", req.ProjectID),
		zap.String("client_ip", c.ClientIP()),
	)

	text, err := h.advisor.Recommend(c.Request.Context(), req.ProjectID, req.UserQuestion)
	if err != nil {
		RespondDomainError(c, log, "recommend", err)
		return
	}

	c.JSON(http.StatusOK, RecommendResponse{
		ProjectID:              req.ProjectID,
		RecommendationMarkdown: text,
	})
}

// parseProjectID 解析路径参数 :id，失败时写入 422
func parseProjectID(c *gin.Context, log *zap.Logger) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn("invalid project id format", zap.String("project_id", raw), zap.Error(err))
		RespondError(c, http.StatusUnprocessableEntity, TypeValidation,
			"request validation failed", "project id must be an integer")
		return 0, false
	}
	return id, true
}
