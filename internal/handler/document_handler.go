package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/internal/repository"
	"github.com/zirpo/pm-backend/pkg/logger"
)

// DefaultMaxDocumentBytes 单个文档上限 1MB
const DefaultMaxDocumentBytes int64 = 1 << 20

// DocumentAdvisor 带文档上下文的分析
type DocumentAdvisor interface {
	RecommendWithDocuments(ctx context.Context, projectID int64, question string) (string, error)
	ReviewWithDocuments(ctx context.Context, projectID int64, focus string) (string, error)
}

type ReviewRequest struct {
	ProjectID int64  `json:"project_id" binding:"required,gt=0"`
	Focus     string `json:"focus"`
}

type ReviewResponse struct {
	ProjectID      int64  `json:"project_id"`
	ReviewMarkdown string `json:"review_markdown"`
}

type DocumentHandler struct {
	plans    repository.PlanStore
	docs     repository.DocumentStore
	advisor  DocumentAdvisor
	maxBytes int64
	logger   *zap.Logger
}

func NewDocumentHandler(plans repository.PlanStore, docs repository.DocumentStore, advisor DocumentAdvisor, maxBytes int64, logger *zap.Logger) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &DocumentHandler{
		plans:    plans,
		docs:     docs,
		advisor:  advisor,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// UploadDocument 接收 multipart 字段 file，只接受 UTF-8 文本
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	projectID, ok := parseProjectID(c, log)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		log.Warn("UploadDocument: missing file field", zap.Error(err))
		RespondValidation(c, err)
		return
	}

	log.Info("UploadDocument request received",
		zap.Int64("project_id", projectID),
		zap.String("file_name", fh.Filename),
		zap.Int64("size", fh.Size),
	)

	if fh.Size > h.maxBytes {
		RespondError(c, http.StatusRequestEntityTooLarge, TypePayloadTooLarge,
			"document exceeds the size limit", fh.Filename)
		return
	}

	f, err := fh.Open()
	if err != nil {
		RespondDomainError(c, log, "upload_document", err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		RespondDomainError(c, log, "upload_document", err)
		return
	}
	if int64(len(data)) > h.maxBytes {
		RespondError(c, http.StatusRequestEntityTooLarge, TypePayloadTooLarge,
			"document exceeds the size limit", fh.Filename)
		return
	}
	// Postgres TEXT 不接受 NUL 字节
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		RespondError(c, http.StatusUnsupportedMediaType, TypeUnsupportedMedia,
			"only UTF-8 text documents are supported", fh.Filename)
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	doc := &model.Document{
		ProjectID:   projectID,
		FileName:    fh.Filename,
		ContentType: contentType,
		Content:     string(data),
	}
	if err := h.docs.AddDocument(c.Request.Context(), doc); err != nil {
		RespondDomainError(c, log, "upload_document", err)
		return
	}

	log.Info("UploadDocument: success",
		zap.Int64("project_id", projectID),
		zap.String("document_id", doc.ID),
	)
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	projectID, ok := parseProjectID(c, log)
	if !ok {
		return
	}

	// 区分“项目不存在”和“没有文档”
	if _, err := h.plans.Load(c.Request.Context(), projectID); err != nil {
		RespondDomainError(c, log, "list_documents", err)
		return
	}

	docs, err := h.docs.ListDocuments(c.Request.Context(), projectID)
	if err != nil {
		RespondDomainError(c, log, "list_documents", err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (h *DocumentHandler) RecommendWithDocuments(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidation(c, err)
		return
	}

	text, err := h.advisor.RecommendWithDocuments(c.Request.Context(), req.ProjectID, req.UserQuestion)
	if err != nil {
		RespondDomainError(c, log, "rag_recommend", err)
		return
	}

	c.JSON(http.StatusOK, RecommendResponse{
		ProjectID:              req.ProjectID,
		RecommendationMarkdown: text,
	})
}

func (h *DocumentHandler) ReviewWithDocuments(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidation(c, err)
		return
	}

	text, err := h.advisor.ReviewWithDocuments(c.Request.Context(), req.ProjectID, req.Focus)
	if err != nil {
		RespondDomainError(c, log, "rag_review", err)
		return
	}

	c.JSON(http.StatusOK, ReviewResponse{
		ProjectID:      req.ProjectID,
		ReviewMarkdown: text,
	})
}
