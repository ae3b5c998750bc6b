package repository

import (
	"context"

	"github.com/zirpo/pm-backend/internal/model"
)

// PlanStore 项目计划的持久化接口
type PlanStore interface {
	Create(ctx context.Context, name string) (*model.Project, error)
	Load(ctx context.Context, id int64) (*model.Project, error)
	// Save 整体替换 plan；expectedVersion 与当前版本不一致时返回 model.ErrConflict
	Save(ctx context.Context, id int64, plan model.Plan, expectedVersion int64) (*model.Project, error)
	List(ctx context.Context) ([]model.ProjectSummary, error)
}

// DocumentStore 项目参考文档的持久化接口
type DocumentStore interface {
	AddDocument(ctx context.Context, doc *model.Document) error
	// ListDocuments 按上传时间从旧到新返回
	ListDocuments(ctx context.Context, projectID int64) ([]model.Document, error)
}
