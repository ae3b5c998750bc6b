package analysis

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/pkg/logger"
)

const (
	DefaultMaxContextLength = 50000
	noDocumentsContext      = "(No documents available for context)"
)

// DocumentLister 读取项目文档（按上传时间从旧到新）
type DocumentLister interface {
	ListDocuments(ctx context.Context, projectID int64) ([]model.Document, error)
}

// BuildContext 拼接文档上下文，超过 maxLen 个字符时停止追加后续文档
func BuildContext(docs []model.Document, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxContextLength
	}

	parts := make([]string, 0, len(docs))
	total := 0
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		block := fmt.Sprintf("--- Document: %s ---\nUploaded: %s\n\n%s\n--- End Document ---",
			d.FileName, d.UploadedAt.UTC().Format("2006-01-02 15:04:05"), d.Content)
		n := utf8.RuneCountInString(block)
		if total+n > maxLen {
			break
		}
		parts = append(parts, block)
		total += n
	}

	if len(parts) == 0 {
		return noDocumentsContext
	}
	return strings.Join(parts, "\n\n")
}

// RAGService 在问题中附带项目文档上下文，仍然只读
type RAGService struct {
	recommender *Recommender
	docs        DocumentLister
	maxLen      int
	logger      *zap.Logger
}

func NewRAGService(recommender *Recommender, docs DocumentLister, maxLen int, logger *zap.Logger) *RAGService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGService{recommender: recommender, docs: docs, maxLen: maxLen, logger: logger}
}

// RecommendWithDocuments 带文档上下文回答问题
func (s *RAGService) RecommendWithDocuments(ctx context.Context, projectID int64, question string) (string, error) {
	docContext, err := s.context(ctx, projectID)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(`You are acting as an experienced project management consultant.

User question: %s

Give recommendations, insights or advice for the project's current state and this question. Consider timeline, risks and concrete next steps.

Relevant project documents:
%s

Ground your answer in the plan and the documents above and cite document details where they matter.`, question, docContext)

	return s.recommender.analyze(ctx, "rag_recommend", projectID, prompt)
}

// ReviewWithDocuments 带文档上下文评审当前 plan
func (s *RAGService) ReviewWithDocuments(ctx context.Context, projectID int64, focus string) (string, error) {
	docContext, err := s.context(ctx, projectID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(focus) == "" {
		focus = "general review"
	}

	prompt := fmt.Sprintf(`You are acting as a senior project manager reviewing this plan.

Review focus: %s

Provide:
1. An assessment of whether the plan is consistent and complete
2. Suggested improvements and next steps
3. Risks or opportunities the plan does not capture
4. Project management recommendations

Relevant project documents:
%s

Ground your review in the plan and the documents above.`, focus, docContext)

	return s.recommender.analyze(ctx, "rag_review", projectID, prompt)
}

func (s *RAGService) context(ctx context.Context, projectID int64) (string, error) {
	// 先确认项目存在，避免对不存在的项目返回空上下文
	if _, err := s.recommender.reader.Load(ctx, projectID); err != nil {
		return "", err
	}

	docs, err := s.docs.ListDocuments(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("list project documents: %w", err)
	}
	out := BuildContext(docs, s.maxLen)

	logger.WithTrace(ctx, s.logger).Debug("Built document context",
		zap.Int64("project_id", projectID),
		zap.Int("documents", len(docs)),
		zap.Int("context_length", utf8.RuneCountInString(out)),
	)
	return out, nil
}
